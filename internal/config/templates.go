package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# optionslab configuration

[backtest]
# Path to the historical options chain sqlite database
db_path = ""
# Maximum number of open trades at a given time
max_open_trades = 99

[market]
# Directory with daily bar CSVs for indicators (SPY.csv, VIX.csv, VIX9D.csv)
data_dir = ""
# Underlying symbol used for RSI
underlying = "SPY"

[logging]
# Log level: debug, info, warn, error
level = "info"
# Write rotating log files in addition to the console
file = true
`

// createTemplateConfig writes a starter config.toml so a first run has
// something to edit.
func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}
