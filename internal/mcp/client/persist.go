package client

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/1jehuang/jcode-sub000/internal/mcp/transport"
)

// ServerPersist is a persisted MCP server configuration, as saved by the
// mcp_add/mcp_update/mcp_remove tools and reloaded on daemon startup.
type ServerPersist struct {
	Name    string            `json:"name"`
	Type    string            `json:"type"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
}

var persistMu sync.Mutex

func configPath(jcodeRoot string) string {
	return filepath.Join(jcodeRoot, "mcp_servers.json")
}

// LoadServersConfig loads the persisted server list from
// "<jcodeRoot>/mcp_servers.json". A missing file is not an error; it
// reports zero configured servers.
func LoadServersConfig(jcodeRoot string) ([]ServerPersist, error) {
	data, err := os.ReadFile(configPath(jcodeRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var servers []ServerPersist
	if err := json.Unmarshal(data, &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

func saveServersConfig(jcodeRoot string, servers []ServerPersist) error {
	persistMu.Lock()
	defer persistMu.Unlock()

	if err := os.MkdirAll(jcodeRoot, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(servers, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(configPath(jcodeRoot), data, 0644)
}

// AddServerToConfig inserts or replaces server by name in the persisted
// config.
func AddServerToConfig(jcodeRoot string, server ServerPersist) error {
	servers, err := LoadServersConfig(jcodeRoot)
	if err != nil {
		servers = nil
	}
	found := false
	for i, s := range servers {
		if s.Name == server.Name {
			servers[i] = server
			found = true
			break
		}
	}
	if !found {
		servers = append(servers, server)
	}
	return saveServersConfig(jcodeRoot, servers)
}

// RemoveServerFromConfig deletes server by name from the persisted config.
// Removing a server that isn't present is not an error.
func RemoveServerFromConfig(jcodeRoot, name string) error {
	servers, err := LoadServersConfig(jcodeRoot)
	if err != nil {
		return nil
	}
	filtered := make([]ServerPersist, 0, len(servers))
	for _, s := range servers {
		if s.Name != name {
			filtered = append(filtered, s)
		}
	}
	return saveServersConfig(jcodeRoot, filtered)
}

// LoadSavedServers connects to every server in the persisted config. It is
// called once at daemon startup; per-server connect failures are logged by
// the caller and do not abort the remaining servers.
func LoadSavedServers(ctx context.Context, jcodeRoot string, manager *Manager) []error {
	servers, err := LoadServersConfig(jcodeRoot)
	if err != nil {
		return []error{err}
	}

	var errs []error
	for _, server := range servers {
		cfg := ClientConfig{Command: server.Name}
		switch server.Type {
		case "http":
			cfg.TransportType = transport.TransportHTTP
			cfg.URL = server.URL
			cfg.Headers = server.Headers
		case "stdio":
			cfg.TransportType = transport.TransportStdio
			cfg.Command = server.Command
			cfg.Args = server.Args
		default:
			continue
		}
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := manager.Connect(connectCtx, cfg)
		cancel()
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
