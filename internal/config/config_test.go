package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "ticker_db", cfg.Database.Database)
				assert.Equal(t, "ticker_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "ticker_updates", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, Duration(24*time.Hour), cfg.RabbitMQ.Queue.MessageTTL)
				assert.Equal(t, 1, cfg.RabbitMQ.Consumer.PrefetchCount)
				assert.Equal(t, "16:30", cfg.Scheduler.ExecutionTime)
				assert.Equal(t, 10, cfg.Scheduler.BatchSize)
				assert.Equal(t, Duration(300*time.Millisecond), cfg.Scheduler.RequestDelay)
				assert.Equal(t, "ticker-monitor", cfg.App.Name)
			}
		})
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    Duration
		wantErr bool
	}{
		{name: "hours", yaml: "24h", want: Duration(24 * time.Hour)},
		{name: "milliseconds", yaml: "300ms", want: Duration(300 * time.Millisecond)},
		{name: "compound", yaml: "1h30m", want: Duration(90 * time.Minute)},
		{name: "not a duration", yaml: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := yaml.Unmarshal([]byte(tt.yaml), &d)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}

func validConsumerConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "ticker_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Exchange: ExchangeConfig{
				Name: "ticker_exchange",
			},
			Queue: QueueConfig{
				Name: "ticker_updates",
			},
		},
		Scheduler: SchedulerConfig{
			ExecutionTime:    "16:30",
			Timezone:         "America/Sao_Paulo",
			MonitoredTickers: "PETR4.SA,VALE3.SA",
			BatchSize:        10,
			BackoffBase:      2,
			MaxRetries:       10,
			FetchMaxAttempts: 5,
		},
		MarketData: MarketDataConfig{
			BaseURL: "https://quotes.example.com/v1",
		},
	}
}

func TestConfig_ValidateConsumerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "missing database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "invalid rabbitmq port",
			mutate:    func(c *Config) { c.RabbitMQ.Port = 0 },
			wantErr:   true,
			errString: "invalid rabbitmq port",
		},
		{
			name:      "missing queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "zero batch size",
			mutate:    func(c *Config) { c.Scheduler.BatchSize = 0 },
			wantErr:   true,
			errString: "batch_size must be greater than 0",
		},
		{
			name:      "backoff base too small",
			mutate:    func(c *Config) { c.Scheduler.BackoffBase = 1 },
			wantErr:   true,
			errString: "backoff_base must be at least 2",
		},
		{
			name:      "zero max retries",
			mutate:    func(c *Config) { c.Scheduler.MaxRetries = 0 },
			wantErr:   true,
			errString: "max_retries must be greater than 0",
		},
		{
			name:      "no monitored tickers",
			mutate:    func(c *Config) { c.Scheduler.MonitoredTickers = " , ," },
			wantErr:   true,
			errString: "monitored_tickers is required",
		},
		{
			name:      "bogus timezone",
			mutate:    func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" },
			wantErr:   true,
			errString: "invalid timezone",
		},
		{
			name:      "missing market data url",
			mutate:    func(c *Config) { c.MarketData.BaseURL = "" },
			wantErr:   true,
			errString: "market_data base_url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConsumerConfig()
			tt.mutate(cfg)

			err := cfg.ValidateConsumerConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	cfg := validConsumerConfig()
	cfg.Server.Port = 8080
	require.NoError(t, cfg.ValidateAPIConfig())

	cfg.Server.Port = 0
	err := cfg.ValidateAPIConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")
}

func TestSchedulerConfig_TickerList(t *testing.T) {
	s := SchedulerConfig{MonitoredTickers: " PETR4.SA, VALE3.SA ,,WEGE3.SA "}
	assert.Equal(t, []string{"PETR4.SA", "VALE3.SA", "WEGE3.SA"}, s.TickerList())
}

func TestSchedulerConfig_Location(t *testing.T) {
	s := SchedulerConfig{}
	loc, err := s.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	s.Timezone = "America/Sao_Paulo"
	loc, err = s.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Sao_Paulo", loc.String())
}
