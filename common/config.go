package common

import "github.com/spf13/viper"

// ===============================================================================
// MQTT Related Config

// MQTTTLSConfig defines optional TLS material for the broker connection
type MQTTTLSConfig struct {
	// Enabled controls whether the broker connection uses TLS
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// CACert is the path of the CA certificate to verify the broker against
	CACert string `mapstructure:"ca_cert" json:"ca_cert" validate:"omitempty,file"`
	// ClientCert is the path of the client certificate for mutual TLS
	ClientCert string `mapstructure:"client_cert" json:"client_cert" validate:"omitempty,file"`
	// ClientKey is the path of the client private key for mutual TLS
	ClientKey string `mapstructure:"client_key" json:"client_key" validate:"omitempty,file"`
}

// MQTTTopicConfig defines one default topic subscription
type MQTTTopicConfig struct {
	// Filter is the topic filter, may contain wildcard segments
	Filter string `mapstructure:"filter" json:"filter" validate:"required"`
	// QOS is the delivery guarantee level requested for the filter
	QOS int `mapstructure:"qos" json:"qos" validate:"gte=0,lte=2"`
}

// MQTTConfig defines parameters for connecting to the MQTT broker
type MQTTConfig struct {
	// BrokerHost is the broker host name. The broker link is disabled when unset.
	BrokerHost string `mapstructure:"broker_host" json:"broker_host"`
	// BrokerPort is the broker port
	BrokerPort uint16 `mapstructure:"broker_port" json:"broker_port" validate:"required,gt=0"`
	// ClientIDBase is the base client ID. A random suffix is appended per process
	// so concurrently running instances do not collide.
	ClientIDBase string `mapstructure:"client_id_base" json:"client_id_base" validate:"required"`
	// Username is the optional broker auth user name
	Username string `mapstructure:"username" json:"username"`
	// Password is the optional broker auth password
	Password string `mapstructure:"password" json:"-"`
	// KeepAlive is the MQTT keep-alive interval in seconds
	KeepAlive int `mapstructure:"keep_alive_sec" json:"keep_alive_sec" validate:"gte=1"`
	// TLS is the optional TLS material
	TLS MQTTTLSConfig `mapstructure:"tls" json:"tls"`
	// DefaultTopics are subscribed on every successful (re)connect
	DefaultTopics []MQTTTopicConfig `mapstructure:"default_topics" json:"default_topics" validate:"omitempty,dive"`
}

// ===============================================================================
// Upstream Node Inventory API Config

// UpstreamAPIConfig defines parameters for the upstream node inventory API
type UpstreamAPIConfig struct {
	// BaseURL is the upstream API base URL. Fetching is disabled when unset.
	BaseURL string `mapstructure:"base_url" json:"base_url" validate:"omitempty,url"`
	// APIKey is sent as a bearer token when set
	APIKey string `mapstructure:"api_key" json:"-"`
	// RequestTimeout is the hard timeout on one upstream fetch in seconds
	RequestTimeout int `mapstructure:"request_timeout_sec" json:"request_timeout_sec" validate:"gte=1"`
	// PageLimit is the page size requested from the upstream API
	PageLimit int `mapstructure:"page_limit" json:"page_limit" validate:"gte=1"`
	// SortBy is the upstream sort field
	SortBy string `mapstructure:"sort_by" json:"sort_by" validate:"required"`
	// SortOrder is the upstream sort direction
	SortOrder string `mapstructure:"sort_order" json:"sort_order" validate:"required,oneof=asc desc"`
}

// ===============================================================================
// Node Cache Config

// NodeCacheConfig defines the tiered node cache parameters
type NodeCacheConfig struct {
	// TTL is the validity window of a freshly fetched entry in seconds
	TTL int `mapstructure:"ttl_sec" json:"ttl_sec" validate:"gte=1"`
	// DegradedTTL is the shorter validity window of an entry restored from
	// the disk snapshot in seconds. Must not exceed TTL so live fetches are
	// retried again soon after a fallback.
	DegradedTTL int `mapstructure:"degraded_ttl_sec" json:"degraded_ttl_sec" validate:"gte=1,ltefield=TTL"`
	// SnapshotFile is the path of the on-disk snapshot fallback
	SnapshotFile string `mapstructure:"snapshot_file" json:"snapshot_file" validate:"required"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
}

// ===============================================================================
// Website Server Related Config

// WebsiteEndpointConfig defines website API endpoint config
type WebsiteEndpointConfig struct {
	// PathPrefix is the end-point path prefix for the website APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// WebsiteServerConfig defines configuration for the website API server
type WebsiteServerConfig struct {
	// HTTPSetting is the HTTP API / server parameters for the website API server
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Endpoints is the API endpoint config parameters for the website API server
	Endpoints WebsiteEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required,dive"`
	// NodeDomain is the DNS suffix appended when resolving short node IDs
	NodeDomain string `mapstructure:"node_domain" json:"node_domain" validate:"required,fqdn"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config of the website server
type SystemConfig struct {
	// MQTT are the broker link related config parameters
	MQTT MQTTConfig `mapstructure:"mqtt" json:"mqtt" validate:"required,dive"`
	// Upstream are the upstream node inventory API configs
	Upstream UpstreamAPIConfig `mapstructure:"upstream" json:"upstream" validate:"required,dive"`
	// NodeCache are the tiered node cache configs
	NodeCache NodeCacheConfig `mapstructure:"node_cache" json:"node_cache" validate:"required,dive"`
	// Website are the website API server configs
	Website WebsiteServerConfig `mapstructure:"website" json:"website" validate:"required,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default MQTT settings
	viper.SetDefault("mqtt.broker_port", 1883)
	viper.SetDefault("mqtt.client_id_base", "ipnet-website")
	viper.SetDefault("mqtt.keep_alive_sec", 120)
	viper.SetDefault("mqtt.tls.enabled", false)
	viper.SetDefault("mqtt.default_topics", []map[string]interface{}{
		{"filter": "ipnet/+/status", "qos": 0},
		{"filter": "ipnet/+/metrics", "qos": 0},
		{"filter": "ipnet/network/topology", "qos": 0},
		{"filter": "ipnet/alerts/+", "qos": 0},
	})

	// Default upstream API settings
	viper.SetDefault("upstream.request_timeout_sec", 10)
	viper.SetDefault("upstream.page_limit", 100)
	viper.SetDefault("upstream.sort_by", "last_seen")
	viper.SetDefault("upstream.sort_order", "desc")

	// Default node cache settings
	viper.SetDefault("node_cache.ttl_sec", 300)
	viper.SetDefault("node_cache.degraded_ttl_sec", 60)
	viper.SetDefault("node_cache.snapshot_file", "instance/cache/api/nodes.json")

	// Default website server settings
	viper.SetDefault("website.endpoint_config.path_prefix", "/")
	viper.SetDefault("website.node_domain", "ipnt.uk")
	viper.SetDefault("website.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("website.api_server.server_config.listen_port", 8000)
	viper.SetDefault("website.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("website.api_server.server_config.write_timeout_sec", 60)
	viper.SetDefault("website.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"website.api_server.logging_config.request_id_header", "Meshweb-Request-ID",
	)
	viper.SetDefault(
		"website.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
}
