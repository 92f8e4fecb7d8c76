package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a commented starter config in format "toml" or "yaml".
func Template(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "toml":
		return tomlTemplate, nil
	case "yaml", "yml":
		return yamlTemplate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// WriteTemplate writes a starter config to path unless it exists and
// overwrite is false.
func WriteTemplate(path, format string, overwrite bool) error {
	template, err := Template(format)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const tomlTemplate = `listen_addr = ":4242"
websocket_addr = ":4243"
metrics_addr = ":9464"

[storage]
driver = "sqlite" # sqlite | badger | memory
path = "hackgame.db"

[registry]
sync_interval = "30s"
check_durable_addresses = false
starting_balance = 100
shards = 16

[credential]
time = 12
memory_kib = 65535
threads = 1

[session]
security_mode = "development"
read_timeout = "15s"
write_timeout = "15s"
session_dead_after = "5m"

[session.tls]
enabled = false

[commands]
rate_per_second = 10.0
burst = 20

[events]
nats_url = ""
subject_prefix = "hackgame.host"

[dev]
enabled = false
username = "dev"
password = "dev"
address = "123.123.123.123"
host_password = "devpass1"
balance = 100

[[software]]
id = "tool.portscan"
name = "Port Scanner"
description = "Lists open services on a host"

[[software]]
id = "fw.basic"
name = "Basic Firewall"
description = "Slows down intrusion attempts"
`

const yamlTemplate = `listen_addr: ":4242"
websocket_addr: ":4243"
metrics_addr: ":9464"

storage:
  driver: sqlite # sqlite | badger | memory
  path: hackgame.db

registry:
  sync_interval: 30s
  check_durable_addresses: false
  starting_balance: 100
  shards: 16

credential:
  time: 12
  memory_kib: 65535
  threads: 1

session:
  security_mode: development
  read_timeout: 15s
  write_timeout: 15s
  session_dead_after: 5m
  tls:
    enabled: false

commands:
  rate_per_second: 10
  burst: 20

events:
  nats_url: ""
  subject_prefix: hackgame.host

dev:
  enabled: false
  username: dev
  password: dev
  address: 123.123.123.123
  host_password: devpass1
  balance: 100

software:
  - id: tool.portscan
    name: Port Scanner
    description: Lists open services on a host
  - id: fw.basic
    name: Basic Firewall
    description: Slows down intrusion attempts
`
