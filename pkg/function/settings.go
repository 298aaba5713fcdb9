package function

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	TransportShim   = "shim"
	TransportGRPC   = "grpc"
	TransportLambda = "lambda"
)

// Settings configure how a function process serves its handler. They are read from
// APEXRT_* environment variables, after loading a .env file when one exists.
type Settings struct {
	Transport   string
	Address     string
	IdleTimeout time.Duration
	LogLevel    string
	LogFormat   string
	LogFile     string
	ErrorDetail bool
	Strict      bool
	InstanceID  string
}

func LoadSettings() Settings {
	// a missing .env is fine
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("APEXRT")
	v.AutomaticEnv()

	v.SetDefault("address", "0.0.0.0:50052")
	v.SetDefault("idle_timeout", "0s")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("error_detail", false)
	v.SetDefault("strict", false)

	transport := v.GetString("transport")
	if transport == "" {
		transport = TransportShim
		if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
			transport = TransportLambda
		}
	}

	instanceID := v.GetString("instance_id")
	if instanceID == "" {
		instanceID, _ = os.Hostname()
	}

	return Settings{
		Transport:   transport,
		Address:     v.GetString("address"),
		IdleTimeout: v.GetDuration("idle_timeout"),
		LogLevel:    v.GetString("log_level"),
		LogFormat:   v.GetString("log_format"),
		LogFile:     v.GetString("log_file"),
		ErrorDetail: v.GetBool("error_detail"),
		Strict:      v.GetBool("strict"),
		InstanceID:  instanceID,
	}
}
