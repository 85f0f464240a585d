package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/castellanhq/castellan/internal/config"
)

func TestSidecarPath(t *testing.T) {
	tests := []struct {
		plugin string
		want   string
	}{
		{"/opt/plugins/finance.py", "/opt/plugins/finance.manifest.yaml"},
		{"/opt/plugins/drone", "/opt/plugins/drone.manifest.yaml"},
		{"relative/echo.sh", "relative/echo.manifest.yaml"},
	}

	for _, tt := range tests {
		if got := SidecarPath(tt.plugin); got != tt.want {
			t.Errorf("SidecarPath(%q) = %q, want %q", tt.plugin, got, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		setupFn func(t *testing.T) string // Returns plugin path
		wantNil bool
		wantErr bool
		checkFn func(t *testing.T, m *Manifest)
	}{
		{
			name: "valid manifest",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				pluginPath := filepath.Join(dir, "echo.py")
				os.WriteFile(pluginPath, []byte("# plugin"), 0644)

				sidecar := `name: echo
isolate: true
isolation_mode: process
timeout: 10s
memory_limit_mb: 128
cpu_time_limit: 5s
allow_network: false
requirements: [requests]
`
				os.WriteFile(filepath.Join(dir, "echo.manifest.yaml"), []byte(sidecar), 0644)
				return pluginPath
			},
			checkFn: func(t *testing.T, m *Manifest) {
				if m.Name != "echo" {
					t.Errorf("name = %q, want echo", m.Name)
				}
				if !m.Isolated() {
					t.Error("should be isolated")
				}
				if m.IsolationMode != ModeProcess {
					t.Errorf("mode = %q, want process", m.IsolationMode)
				}
				if m.Timeout.D() != 10*time.Second {
					t.Errorf("timeout = %v, want 10s", m.Timeout.D())
				}
				if m.MemoryLimitMB != 128 {
					t.Errorf("memory_limit_mb = %d, want 128", m.MemoryLimitMB)
				}
			},
		},
		{
			name: "missing sidecar returns nil manifest",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				pluginPath := filepath.Join(dir, "bare.py")
				os.WriteFile(pluginPath, []byte("# plugin"), 0644)
				return pluginPath
			},
			wantNil: true,
		},
		{
			name: "missing name rejected",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				pluginPath := filepath.Join(dir, "anon.py")
				os.WriteFile(pluginPath, []byte("# plugin"), 0644)
				os.WriteFile(filepath.Join(dir, "anon.manifest.yaml"), []byte("isolate: true\n"), 0644)
				return pluginPath
			},
			wantErr: true,
		},
		{
			name: "invalid isolation mode rejected",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				pluginPath := filepath.Join(dir, "bad.py")
				os.WriteFile(pluginPath, []byte("# plugin"), 0644)
				sidecar := "name: bad\nisolation_mode: container\n"
				os.WriteFile(filepath.Join(dir, "bad.manifest.yaml"), []byte(sidecar), 0644)
				return pluginPath
			},
			wantErr: true,
		},
		{
			name: "malformed YAML rejected",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				pluginPath := filepath.Join(dir, "broken.py")
				os.WriteFile(pluginPath, []byte("# plugin"), 0644)
				os.WriteFile(filepath.Join(dir, "broken.manifest.yaml"), []byte("name: [unterminated"), 0644)
				return pluginPath
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pluginPath := tt.setupFn(t)

			m, err := Load(pluginPath)

			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.wantNil {
				if m != nil {
					t.Fatalf("expected nil manifest, got %+v", m)
				}
				return
			}
			if m == nil {
				t.Fatal("expected manifest, got nil")
			}
			if tt.checkFn != nil {
				tt.checkFn(t, m)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		manifest *Manifest
		wantErr  bool
	}{
		{
			name:     "minimal valid",
			manifest: &Manifest{Name: "echo"},
			wantErr:  false,
		},
		{
			name:     "missing name",
			manifest: &Manifest{},
			wantErr:  true,
		},
		{
			name:     "whitespace name",
			manifest: &Manifest{Name: "   "},
			wantErr:  true,
		},
		{
			name:     "negative timeout",
			manifest: &Manifest{Name: "echo", Timeout: config.Duration(-time.Second)},
			wantErr:  true,
		},
		{
			name:     "negative memory",
			manifest: &Manifest{Name: "echo", MemoryLimitMB: -1},
			wantErr:  true,
		},
		{
			name:     "empty requirement entry",
			manifest: &Manifest{Name: "echo", Requirements: []string{"requests", " "}},
			wantErr:  true,
		},
		{
			name:     "thread mode valid",
			manifest: &Manifest{Name: "echo", IsolationMode: ModeThread},
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.manifest)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsolatedDefault(t *testing.T) {
	m := &Manifest{Name: "echo"}
	if !m.Isolated() {
		t.Error("isolate should default to true")
	}

	no := false
	m = &Manifest{Name: "echo", Isolate: &no}
	if m.Isolated() {
		t.Error("explicit isolate=false should win")
	}
}
