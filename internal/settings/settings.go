package settings

type EmbeddedNATS struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	HTTPPort int    `json:"http_port"`
	StoreDir string `json:"store_dir"`
}

// Policies holds the per-device-type alerting tunables.
type Policies struct {
	TemperatureThreshold float64 `json:"temperature_threshold"`
	WattageThreshold     float64 `json:"wattage_threshold"`

	// MotionNormal is the at-rest state of motion sensors; an observed
	// state different from it raises an alert.
	MotionNormal bool `json:"motion_normal"`
}

type Settings struct {
	Version int `json:"version"`

	HTTPAddr string `json:"http_addr"`
	LogLevel string `json:"log_level"`

	NATSURL    string `json:"nats_url"`
	NATSPrefix string `json:"nats_prefix"`

	EmbeddedNATS EmbeddedNATS `json:"embedded_nats"`

	Policies Policies `json:"policies"`

	// ChannelDepth is the per-client delivery channel buffer; a full
	// channel drops further alerts for that client rather than blocking
	// the dispatcher.
	ChannelDepth int `json:"channel_depth"`
}

func Defaults() Settings {
	return Settings{
		Version:  1,
		HTTPAddr: ":8080",
		LogLevel: "info",

		NATSURL:    "nats://127.0.0.1:14222",
		NATSPrefix: "hub",

		EmbeddedNATS: EmbeddedNATS{
			Enabled:  true,
			Host:     "127.0.0.1",
			Port:     14222,
			HTTPPort: 18222,
			StoreDir: "data/nats",
		},

		Policies: Policies{
			TemperatureThreshold: 100,
			WattageThreshold:     450,
			MotionNormal:         false,
		},

		ChannelDepth: 64,
	}
}
