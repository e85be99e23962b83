package tasks

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/herd/pkg/engine"
	"github.com/openfroyo/herd/pkg/transports/ssh"
)

// FactsKey is the host data key Facts stores gathered facts under.
const FactsKey = "facts"

// Fact types gathered by Facts.
const (
	FactsOS      = "os.basic"
	FactsCPU     = "hw.cpu"
	FactsMemory  = "hw.memory"
	FactsDisk    = "hw.disk"
	FactsNetwork = "net.ifaces"
)

// OSFacts contains OS information.
type OSFacts struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Kernel   string `json:"kernel"`
	Arch     string `json:"arch"`
	Hostname string `json:"hostname"`
}

// CPUFacts contains CPU information.
type CPUFacts struct {
	Model  string `json:"model"`
	Vendor string `json:"vendor"`
	Cores  int    `json:"cores"`
}

// MemoryFacts contains memory information.
type MemoryFacts struct {
	TotalMB     int64 `json:"total_mb"`
	AvailableMB int64 `json:"available_mb"`
	SwapTotalMB int64 `json:"swap_total_mb"`
	SwapFreeMB  int64 `json:"swap_free_mb"`
}

// DiskDevice is one mounted filesystem.
type DiskDevice struct {
	Device      string `json:"device"`
	FSType      string `json:"fs_type"`
	MountPoint  string `json:"mount_point"`
	TotalGB     int64  `json:"total_gb"`
	UsedGB      int64  `json:"used_gb"`
	AvailableGB int64  `json:"available_gb"`
	UsePercent  int    `json:"use_percent"`
}

// NetworkInterface is one non-loopback interface and its addresses.
type NetworkInterface struct {
	Name        string   `json:"name"`
	IPAddresses []string `json:"ip_addresses"`
}

var gatherers = map[string]engine.Func{
	FactsOS:      gatherOS,
	FactsCPU:     gatherCPU,
	FactsMemory:  gatherMemory,
	FactsDisk:    gatherDisk,
	FactsNetwork: gatherNetwork,
}

// FactTypes returns every fact type Facts can gather, sorted.
func FactTypes() []string {
	types := make([]string, 0, len(gatherers))
	for t := range gatherers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Facts gathers facts about a host over SSH, one sub-task per fact type,
// and stores them in the host's data under FactsKey so later tasks and
// filters can use them. The "gather" parameter limits the fact types.
func Facts(ctx context.Context, t *engine.Task) (any, error) {
	types, err := gatherTypes(t.Params[ParamGather])
	if err != nil {
		return nil, err
	}

	facts := make(map[string]any, len(types))
	for _, ft := range types {
		res, err := t.Run(ctx, gatherers[ft], engine.WithName(ft), engine.WithParams(t.Params), engine.WithSeverity(zerolog.DebugLevel))
		if err != nil {
			return nil, err
		}
		facts[ft] = res.First().Payload
	}

	t.Host().Set(FactsKey, facts)
	t.Logger().Debug().Int("facts", len(facts)).Msg("Facts gathered")
	return facts, nil
}

func gatherTypes(v any) ([]string, error) {
	var types []string
	switch g := v.(type) {
	case nil:
		return FactTypes(), nil
	case string:
		types = strings.Split(g, ",")
	case []string:
		types = append([]string(nil), g...)
	case []any:
		for _, item := range g {
			types = append(types, fmt.Sprint(item))
		}
	default:
		return nil, engine.NewPermanentError(fmt.Sprintf("invalid gather parameter %T", v), nil)
	}
	for i, ft := range types {
		types[i] = strings.TrimSpace(ft)
		if _, ok := gatherers[types[i]]; !ok {
			return nil, engine.NewPermanentError(fmt.Sprintf("unknown fact type %q", ft), nil)
		}
	}
	return types, nil
}

// output runs cmd and returns its stdout, failing on a non-zero exit.
func output(ctx context.Context, t *engine.Task, cmd string) (string, error) {
	conn, err := connection(ctx, t)
	if err != nil {
		return "", err
	}
	exec, ok := conn.(ssh.Executor)
	if !ok {
		return "", engine.NewPermanentError(fmt.Sprintf("connection %T cannot run commands", conn), nil)
	}
	res, err := exec.Execute(ctx, cmd)
	if err != nil {
		return "", classify(err)
	}
	if !res.Success() {
		return "", fmt.Errorf("%s exited with status %d: %s", cmd, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

func gatherOS(ctx context.Context, t *engine.Task) (any, error) {
	facts := &OSFacts{}

	release, err := output(ctx, t, "cat /etc/os-release")
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(release, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		switch key {
		case "NAME":
			facts.Name = value
		case "VERSION":
			facts.Version = value
		}
	}

	uname, err := output(ctx, t, "uname -rmn")
	if err != nil {
		return nil, err
	}
	if fields := strings.Fields(uname); len(fields) == 3 {
		facts.Hostname, facts.Kernel, facts.Arch = fields[0], fields[1], fields[2]
	}
	return facts, nil
}

func gatherCPU(ctx context.Context, t *engine.Task) (any, error) {
	info, err := output(ctx, t, "cat /proc/cpuinfo")
	if err != nil {
		return nil, err
	}

	facts := &CPUFacts{}
	for _, line := range strings.Split(info, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "processor":
			facts.Cores++
		case "model name":
			facts.Model = value
		case "vendor_id":
			facts.Vendor = value
		}
	}
	return facts, nil
}

func gatherMemory(ctx context.Context, t *engine.Task) (any, error) {
	info, err := output(ctx, t, "cat /proc/meminfo")
	if err != nil {
		return nil, err
	}

	facts := &MemoryFacts{}
	for _, line := range strings.Split(info, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			facts.TotalMB = kb / 1024
		case "MemAvailable:":
			facts.AvailableMB = kb / 1024
		case "SwapTotal:":
			facts.SwapTotalMB = kb / 1024
		case "SwapFree:":
			facts.SwapFreeMB = kb / 1024
		}
	}
	return facts, nil
}

func gatherDisk(ctx context.Context, t *engine.Task) (any, error) {
	df, err := output(ctx, t, "df -BG -T")
	if err != nil {
		return nil, err
	}

	gigabytes := func(s string) int64 {
		n, _ := strconv.ParseInt(strings.TrimSuffix(s, "G"), 10, 64)
		return n
	}

	devices := []DiskDevice{}
	for _, line := range strings.Split(df, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 7 || !strings.HasPrefix(fields[0], "/") {
			continue
		}
		percent, _ := strconv.Atoi(strings.TrimSuffix(fields[5], "%"))
		devices = append(devices, DiskDevice{
			Device:      fields[0],
			FSType:      fields[1],
			TotalGB:     gigabytes(fields[2]),
			UsedGB:      gigabytes(fields[3]),
			AvailableGB: gigabytes(fields[4]),
			UsePercent:  percent,
			MountPoint:  fields[6],
		})
	}
	return devices, nil
}

func gatherNetwork(ctx context.Context, t *engine.Task) (any, error) {
	addrs, err := output(ctx, t, "ip -o addr show")
	if err != nil {
		return nil, err
	}

	var ifaces []NetworkInterface
	index := make(map[string]int)
	for _, line := range strings.Split(addrs, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		name := strings.TrimSuffix(fields[1], ":")
		if name == "lo" {
			continue
		}
		i, ok := index[name]
		if !ok {
			i = len(ifaces)
			index[name] = i
			ifaces = append(ifaces, NetworkInterface{Name: name})
		}
		if fields[2] == "inet" || fields[2] == "inet6" {
			addr, _, _ := strings.Cut(fields[3], "/")
			ifaces[i].IPAddresses = append(ifaces[i].IPAddresses, addr)
		}
	}
	return ifaces, nil
}
