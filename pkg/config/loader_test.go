package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFormatForPath(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"pabawi.yaml", FormatYAML, false},
		{"pabawi.YML", FormatYAML, false},
		{"pabawi.json", FormatYAML, false},
		{"pabawi.cue", FormatCUE, false},
		{"pabawi.star", FormatStarlark, false},
		{"pabawi.toml", "", true},
		{"pabawi", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatForPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FormatForPath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestLoader_LoadAllFormats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"pabawi.yaml": `
proxy_manage: false
install_settings:
  port: 3000
integrations: [bolt, hiera]
`,
		"pabawi.json": `{"proxy_manage": false, "install_settings": {"port": 3000}, "integrations": ["bolt", "hiera"]}`,
		"pabawi.cue": `
proxy_manage: false
install_settings: port: 3000
integrations: ["bolt", "hiera"]
`,
		"pabawi.star": `
config = {
    "proxy_manage": False,
    "install_settings": {"port": 3000},
    "integrations": ["bolt", "hiera"],
}
`,
	}

	loader := NewLoader()
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatalf("Failed to write %s: %v", name, err)
			}

			raw, err := loader.Load(context.Background(), path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if raw.Source != path {
				t.Errorf("Expected source %s, got %s", path, raw.Source)
			}

			got := strings.Join(raw.Root.Keys(), ",")
			if got != "proxy_manage,install_settings,integrations" {
				t.Errorf("Expected declaration order, got %s", got)
			}

			install, _ := raw.Root.Get("install_settings")
			port, _ := install.(*Object).Get("port")
			if port != 3000 {
				t.Errorf("Expected port 3000 as int, got %v (%T)", port, port)
			}

			cfg, err := Validate(raw)
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if cfg.Proxy.Manage {
				t.Error("Expected proxy to be unmanaged")
			}
			if names := strings.Join(cfg.IntegrationNames(), ","); names != "bolt,hiera" {
				t.Errorf("Expected bolt,hiera, got %s", names)
			}
		})
	}
}

func TestLoader_YAMLScalarTypes(t *testing.T) {
	loader := NewLoader()
	raw, err := loader.LoadBytes(context.Background(), "inline", []byte("proxy_manage: \"yes\"\ninstall_manage: yes\n"), FormatYAML)
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}

	// yaml.v3 follows YAML 1.2: yes is a string, not a boolean.
	if v, _ := raw.Root.Get(KeyProxyManage); v != "yes" {
		t.Errorf("Expected quoted yes to stay a string, got %v (%T)", v, v)
	}
	if v, _ := raw.Root.Get(KeyInstallManage); v != "yes" {
		t.Errorf("Expected bare yes to stay a string, got %v (%T)", v, v)
	}
}

func TestLoader_YAMLDuplicateKey(t *testing.T) {
	loader := NewLoader()
	_, err := loader.LoadBytes(context.Background(), "dup.yaml", []byte("proxy_manage: true\nproxy_manage: false\n"), FormatYAML)

	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Expected *LoadError, got %v", err)
	}
	if loadErr.Line != 2 {
		t.Errorf("Expected line 2, got %d", loadErr.Line)
	}
}

func TestLoader_YAMLErrors(t *testing.T) {
	loader := NewLoader()
	tests := []struct {
		name string
		doc  string
	}{
		{"syntax", "proxy_manage: [unclosed\n"},
		{"top level list", "- bolt\n- hiera\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.LoadBytes(context.Background(), "bad.yaml", []byte(tt.doc), FormatYAML)
			var loadErr *LoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("Expected *LoadError, got %v", err)
			}
		})
	}
}

func TestLoader_YAMLAnchors(t *testing.T) {
	doc := `
proxy_settings: &common
  ssl: false
install_settings: *common
`
	loader := NewLoader()
	raw, err := loader.LoadBytes(context.Background(), "anchors.yaml", []byte(doc), FormatYAML)
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	install, _ := raw.Root.Get(KeyInstallSettings)
	if ssl, _ := install.(*Object).Get("ssl"); ssl != false {
		t.Errorf("Expected alias to resolve, got %v", ssl)
	}
}

func TestLoader_EmptyDocument(t *testing.T) {
	loader := NewLoader()
	raw, err := loader.LoadBytes(context.Background(), "empty.yaml", nil, FormatYAML)
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if raw.Root.Len() != 0 {
		t.Errorf("Expected empty root, got %v", raw.Root.Keys())
	}
}

func TestLoader_CUEClosedSchema(t *testing.T) {
	loader := NewLoader()
	_, err := loader.LoadBytes(context.Background(), "typo.cue", []byte("proxy_mange: true\n"), FormatCUE)

	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Expected *LoadError, got %v", err)
	}
	if loadErr.Line == 0 {
		t.Errorf("Expected a source position, got %+v", loadErr)
	}
}

func TestLoader_CUEIncomplete(t *testing.T) {
	loader := NewLoader()
	_, err := loader.LoadBytes(context.Background(), "open.cue", []byte("config_dir: string\n"), FormatCUE)
	if err == nil {
		t.Fatal("Expected error for non-concrete value, got nil")
	}
}

func TestLoader_MissingFile(t *testing.T) {
	loader := NewLoader()
	if _, err := loader.Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Expected error for missing file, got nil")
	}
}

func TestObject(t *testing.T) {
	obj := NewObject()
	obj.Set("b", 1)
	obj.Set("a", NewObject())
	obj.Set("b", 2)

	if got := strings.Join(obj.Keys(), ","); got != "b,a" {
		t.Errorf("Expected b,a, got %s", got)
	}
	if v, _ := obj.Get("b"); v != 2 {
		t.Errorf("Expected overwritten value 2, got %v", v)
	}

	m := obj.ToMap()
	if _, ok := m["a"].(map[string]any); !ok {
		t.Errorf("Expected nested object to convert to map, got %T", m["a"])
	}

	var nilObj *Object
	if nilObj.Len() != 0 || nilObj.Has("x") || len(nilObj.ToMap()) != 0 {
		t.Error("Expected nil object to behave as empty")
	}
}
