package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variable names.
const (
	EnvGRPCPort       = "GRPC_PORT"
	EnvGRPCTLSPort    = "GRPC_TLS_PORT"
	EnvGRPCTLSCert    = "GRPC_TLS_CERT"
	EnvGRPCTLSKey     = "GRPC_TLS_KEY"
	EnvGRPCTLSCA      = "GRPC_TLS_CA"
	EnvGRPCMTLS       = "GRPC_MTLS_ENABLED"
	EnvConnectEnabled = "CONNECT_ENABLED"
	EnvConnectPort    = "CONNECT_PORT"
	EnvCORSEnabled    = "CONNECT_CORS_ENABLED"
	EnvCORSOrigins    = "CONNECT_CORS_ORIGINS"
	EnvAdminPort      = "ADMIN_PORT"
	EnvProtoDir       = "PROTO_DIR"
	EnvRulesDir       = "RULES_DIR"
	EnvUploadsDir     = "UPLOADS_DIR"
	EnvValidation     = "VALIDATION_ENABLED"
	EnvValidationSrc  = "VALIDATION_SOURCE"
	EnvValidationMode = "VALIDATION_MODE"
	EnvMessageCEL     = "VALIDATION_CEL_MESSAGE"
	EnvDebugValid     = "DEBUG_VALIDATION"
	EnvLogLevel       = "LOG_LEVEL"
	EnvLogFormat      = "LOG_FORMAT"
)

// Validation source dialects.
const (
	SourceAuto          = "auto"
	SourcePGV           = "pgv"
	SourceProtovalidate = "protovalidate"
)

// Validation reporting modes.
const (
	ModePerMessage = "per_message"
	ModeAggregate  = "aggregate"
)

// Message-level CEL switches.
const (
	CELOff          = "off"
	CELExperimental = "experimental"
)

// Config holds the full wishmock server configuration.
type Config struct {
	// ProtoDir is the directory holding .proto schema files.
	ProtoDir string

	// RulesDir is the directory holding rule files.
	RulesDir string

	// UploadsDir is the optional staging directory for uploaded bundles.
	UploadsDir string

	// ImportPaths are extra directories searched for proto imports.
	ImportPaths []string

	// GRPCPort is the plaintext native gRPC port.
	GRPCPort int

	// GRPCTLSPort is the TLS native gRPC port. 0 disables TLS serving.
	GRPCTLSPort int

	// TLSCertFile and TLSKeyFile are the server certificate pair.
	TLSCertFile string
	TLSKeyFile  string

	// TLSCAFile is the client CA bundle used when MTLSEnabled is set.
	TLSCAFile string

	// MTLSEnabled requires and verifies client certificates on the TLS port.
	MTLSEnabled bool

	// ConnectEnabled binds the Connect/gRPC-Web HTTP port.
	ConnectEnabled bool

	// ConnectPort is the Connect/gRPC-Web port.
	ConnectPort int

	// CORSEnabled turns on CORS handling for the Connect port.
	CORSEnabled bool

	// CORSOrigins is the allow-list of origins; ["*"] allows any.
	CORSOrigins []string

	// AdminPort is the admin/health/metrics HTTP port.
	AdminPort int

	// ValidationEnabled turns request validation on.
	ValidationEnabled bool

	// ValidationSource selects the constraint dialect: auto, pgv or
	// protovalidate. The legacy alias "buf" maps to protovalidate.
	ValidationSource string

	// ValidationMode is per_message or aggregate.
	ValidationMode string

	// MessageCEL controls message-level CEL for the pgv source: off or
	// experimental. Protovalidate always evaluates message CEL.
	MessageCEL string

	// DebugValidation enables verbose validation logging.
	DebugValidation bool

	// LogLevel and LogFormat configure the operational logger.
	LogLevel  string
	LogFormat string
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		ProtoDir:          "protos",
		RulesDir:          "rules/grpc",
		UploadsDir:        "uploads",
		GRPCPort:          50051,
		ConnectPort:       50052,
		AdminPort:         8080,
		ValidationEnabled: true,
		ValidationSource:  SourceAuto,
		ValidationMode:    ModePerMessage,
		MessageCEL:        CELOff,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// FromEnv loads configuration from the environment on top of the defaults.
func FromEnv() (*Config, error) {
	cfg := Default()

	var err error
	if cfg.GRPCPort, err = envInt(EnvGRPCPort, cfg.GRPCPort); err != nil {
		return nil, err
	}
	if cfg.GRPCTLSPort, err = envInt(EnvGRPCTLSPort, cfg.GRPCTLSPort); err != nil {
		return nil, err
	}
	cfg.TLSCertFile = envString(EnvGRPCTLSCert, cfg.TLSCertFile)
	cfg.TLSKeyFile = envString(EnvGRPCTLSKey, cfg.TLSKeyFile)
	cfg.TLSCAFile = envString(EnvGRPCTLSCA, cfg.TLSCAFile)
	cfg.MTLSEnabled = envBool(EnvGRPCMTLS, cfg.MTLSEnabled)

	cfg.ConnectEnabled = envBool(EnvConnectEnabled, cfg.ConnectEnabled)
	if cfg.ConnectPort, err = envInt(EnvConnectPort, cfg.ConnectPort); err != nil {
		return nil, err
	}
	cfg.CORSEnabled = envBool(EnvCORSEnabled, cfg.CORSEnabled)
	if v := os.Getenv(EnvCORSOrigins); v != "" {
		cfg.CORSOrigins = splitList(v)
	}

	if cfg.AdminPort, err = envInt(EnvAdminPort, cfg.AdminPort); err != nil {
		return nil, err
	}
	cfg.ProtoDir = envString(EnvProtoDir, cfg.ProtoDir)
	cfg.RulesDir = envString(EnvRulesDir, cfg.RulesDir)
	cfg.UploadsDir = envString(EnvUploadsDir, cfg.UploadsDir)

	cfg.ValidationEnabled = envBool(EnvValidation, cfg.ValidationEnabled)
	if v := os.Getenv(EnvValidationSrc); v != "" {
		src, err := ParseSource(v)
		if err != nil {
			return nil, err
		}
		cfg.ValidationSource = src
	}
	if v := os.Getenv(EnvValidationMode); v != "" {
		mode, err := ParseMode(v)
		if err != nil {
			return nil, err
		}
		cfg.ValidationMode = mode
	}
	if v := os.Getenv(EnvMessageCEL); v != "" {
		switch strings.ToLower(v) {
		case CELOff, CELExperimental:
			cfg.MessageCEL = strings.ToLower(v)
		default:
			return nil, fmt.Errorf("%s: unknown value %q", EnvMessageCEL, v)
		}
	}
	cfg.DebugValidation = envBool(EnvDebugValid, cfg.DebugValidation)

	cfg.LogLevel = envString(EnvLogLevel, cfg.LogLevel)
	cfg.LogFormat = envString(EnvLogFormat, cfg.LogFormat)

	return cfg, nil
}

// ParseSource normalizes a validation source name.
// The legacy alias "buf" maps to protovalidate.
func ParseSource(s string) (string, error) {
	switch strings.ToLower(s) {
	case SourceAuto, "":
		return SourceAuto, nil
	case SourcePGV:
		return SourcePGV, nil
	case SourceProtovalidate, "buf":
		return SourceProtovalidate, nil
	default:
		return "", fmt.Errorf("%s: unknown value %q", EnvValidationSrc, s)
	}
}

// ParseMode normalizes a validation mode name.
func ParseMode(s string) (string, error) {
	switch strings.ToLower(s) {
	case ModePerMessage, "":
		return ModePerMessage, nil
	case ModeAggregate:
		return ModeAggregate, nil
	default:
		return "", fmt.Errorf("%s: unknown value %q", EnvValidationMode, s)
	}
}

// MessageCELEnabled reports whether message-level CEL constraints apply for
// the configured source.
func (c *Config) MessageCELEnabled() bool {
	return c.ValidationSource == SourceProtovalidate || c.MessageCEL == CELExperimental
}

func envString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

func envBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
