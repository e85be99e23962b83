package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/herd/pkg/config"
	"github.com/openfroyo/herd/pkg/connections"
	"github.com/openfroyo/herd/pkg/engine"
	"github.com/openfroyo/herd/pkg/inventory"
	"github.com/openfroyo/herd/pkg/tasks"
	"github.com/openfroyo/herd/pkg/transports/ssh"
)

func openClient(t *testing.T, extras map[string]any) *Client {
	t.Helper()
	c := &Client{}
	if err := c.Open(context.Background(), inventory.ConnectionParams{Extras: extras}, config.Default()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRegistered(t *testing.T) {
	f, err := connections.DefaultRegistry.Get(PluginName)
	if err != nil {
		t.Fatalf("Get(%q) error = %v", PluginName, err)
	}
	if _, ok := f().(ssh.Executor); !ok {
		t.Errorf("local connection does not implement ssh.Executor")
	}
}

func TestExecute(t *testing.T) {
	dir := t.TempDir()
	c := openClient(t, map[string]any{
		ExtraWorkDir: dir,
		ExtraEnv:     map[string]any{"HERD_GREETING": "hello", "HERD_COUNT": 3},
	})

	tests := []struct {
		name       string
		cmd        string
		wantStdout string
		wantStderr string
		wantExit   int
	}{
		{name: "stdout", cmd: "echo hi", wantStdout: "hi\n"},
		{name: "stderr", cmd: "echo oops >&2", wantStderr: "oops\n"},
		{name: "exit code", cmd: "exit 3", wantExit: 3},
		{name: "env", cmd: `echo "$HERD_GREETING $HERD_COUNT"`, wantStdout: "hello 3\n"},
		{name: "workdir", cmd: "pwd -P", wantStdout: mustEval(t, dir) + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Execute(context.Background(), tt.cmd)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if res.Stdout != tt.wantStdout {
				t.Errorf("Stdout = %q, want %q", res.Stdout, tt.wantStdout)
			}
			if res.Stderr != tt.wantStderr {
				t.Errorf("Stderr = %q, want %q", res.Stderr, tt.wantStderr)
			}
			if res.ExitCode != tt.wantExit {
				t.Errorf("ExitCode = %d, want %d", res.ExitCode, tt.wantExit)
			}
			if res.Command != tt.cmd {
				t.Errorf("Command = %q, want %q", res.Command, tt.cmd)
			}
			if res.FinishedAt.Before(res.StartedAt) {
				t.Errorf("FinishedAt %v before StartedAt %v", res.FinishedAt, res.StartedAt)
			}
		})
	}
}

func mustEval(t *testing.T, path string) string {
	t.Helper()
	p, err := filepath.EvalSymlinks(path)
	if err != nil {
		t.Fatalf("EvalSymlinks() error = %v", err)
	}
	return p
}

func TestExecute_Errors(t *testing.T) {
	t.Run("not open", func(t *testing.T) {
		_, err := (&Client{}).Execute(context.Background(), "true")
		var te *ssh.TransportError
		if !errors.As(err, &te) || te.Op != "execute" {
			t.Errorf("Execute() error = %v, want exec TransportError", err)
		}
	})

	t.Run("missing shell", func(t *testing.T) {
		c := openClient(t, map[string]any{ExtraShell: "/nonexistent/shell"})
		_, err := c.Execute(context.Background(), "true")
		var te *ssh.TransportError
		if !errors.As(err, &te) {
			t.Errorf("Execute() error = %v, want TransportError", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		c := openClient(t, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := c.Execute(ctx, "sleep 5")
		var te *ssh.TransportError
		if !errors.As(err, &te) || !te.Temporary() {
			t.Errorf("Execute() error = %v, want temporary TransportError", err)
		}
	})

	t.Run("bad env", func(t *testing.T) {
		c := &Client{}
		err := c.Open(context.Background(), inventory.ConnectionParams{Extras: map[string]any{ExtraEnv: "A=1"}}, nil)
		if err == nil {
			t.Error("Open() with a string env extra succeeded")
		}
	})
}

func TestUpload(t *testing.T) {
	src := filepath.Join(t.TempDir(), "motd")
	if err := os.WriteFile(src, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(t.TempDir(), "etc", "motd")

	c := openClient(t, nil)
	res, err := c.Upload(context.Background(), src, dest, 0o644)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if res.BytesTransferred != 5 {
		t.Errorf("BytesTransferred = %d, want 5", res.BytesTransferred)
	}
	// sha256("hello")
	if want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"; res.Checksum != want {
		t.Errorf("Checksum = %s, want %s", res.Checksum, want)
	}

	got, err := os.ReadFile(dest)
	if err != nil || string(got) != "hello" {
		t.Errorf("dest content = %q, %v", got, err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Errorf("mode = %v, want 0644", info.Mode().Perm())
	}

	t.Run("keeps source mode", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "motd")
		if _, err := c.Upload(context.Background(), src, dest, 0); err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		info, err := os.Stat(dest)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Errorf("mode = %v, want 0600", info.Mode().Perm())
		}
	})

	t.Run("relative to workdir", func(t *testing.T) {
		dir := t.TempDir()
		c := openClient(t, map[string]any{ExtraWorkDir: dir})
		if _, err := c.Upload(context.Background(), src, "conf/motd", 0); err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "conf", "motd")); err != nil {
			t.Errorf("uploaded file missing: %v", err)
		}
	})

	t.Run("missing source", func(t *testing.T) {
		_, err := c.Upload(context.Background(), filepath.Join(t.TempDir(), "nope"), dest, 0)
		var te *ssh.TransportError
		if !errors.As(err, &te) || te.Op != "upload" {
			t.Errorf("Upload() error = %v, want upload TransportError", err)
		}
	})
}

func TestCommandTask(t *testing.T) {
	dir := t.TempDir()
	inv, err := inventory.Build(&inventory.Records{
		Hosts: map[string]inventory.HostRecord{
			"control": {
				ConnectionOptions: map[string]inventory.ConnectionOptionsRecord{
					PluginName: {Extras: map[string]any{ExtraWorkDir: dir}},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	eng := engine.New(inv, engine.WithRunner(engine.SerialRunner{}))
	t.Cleanup(func() { _ = eng.Close() })

	run := func(cmd string) *engine.Result {
		t.Helper()
		agg, err := eng.Run(context.Background(), tasks.NewCommand(cmd, engine.WithParam(tasks.ParamConnection, PluginName)))
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		return agg.Hosts["control"].First()
	}

	if r := run("echo herd > out.txt && cat out.txt"); r.Failed || strings.TrimSpace(r.String()) != "herd" {
		t.Errorf("result = %q (failed %t, err %v), want herd", r.String(), r.Failed, r.Err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.txt")); err != nil {
		t.Errorf("command did not run in workdir: %v", err)
	}
	if r := run("exit 2"); !r.Failed {
		t.Error("non-zero exit did not fail the host")
	}
}
