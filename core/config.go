package core

import (
	"fmt"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env          string // DEV (local; default), TEST, QA, PROD
		Debug        bool
		TestMode     bool
		Build        string
		AppName      string
		SecretKey    string
		RollbarToken string
		WorkDir      string

		Server   ServerConfig
		Database DatabaseConfig
		Upload   UploadConfig
		Ingest   IngestConfig
		Dataset  DatasetConfig
		Email    EmailConfig
	}

	ServerConfig struct {
		Host               string
		Address            string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string // postgres | memory
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	UploadConfig struct {
		ChunkDir     string
		UploadDir    string
		MaxChunkSize string // echo BodyLimit format, eg. "12M"
	}

	IngestConfig struct {
		Workers   int
		QueueSize int
		BatchSize int
	}

	DatasetConfig struct {
		ExportBatchSize int
	}

	EmailConfig struct {
		DefaultFromEmail string
		OperatorEmail    string
		SendgridApiKey   string
	}
)

func (dbc DatabaseConfig) Address() string {
	return fmt.Sprintf("%s:%d", dbc.Host, dbc.Port)
}

func (ec EmailConfig) DefaultFrom() mail.Address {
	addr, err := mail.ParseAddress(ec.DefaultFromEmail)
	if err != nil {
		return mail.Address{Address: ec.DefaultFromEmail}
	}
	return *addr
}

func (ec EmailConfig) Operator() (mail.Address, bool) {
	if ec.OperatorEmail == "" {
		return mail.Address{}, false
	}
	addr, err := mail.ParseAddress(ec.OperatorEmail)
	if err != nil {
		return mail.Address{Address: ec.OperatorEmail}, true
	}
	return *addr, true
}

// NewConfig loads the app config from the environment (and the optional `config/.env.<env>` file).
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "Tabula")
	v.SetDefault("secretKey", "x8!q4-s0lf=+t2_vu(3e@ya%7ck$h9nw#dp1oz&mg*r6bj5^ti")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "tabula")
	v.SetDefault("database.user", "tabula")
	v.SetDefault("database.password", "tabula")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("upload.chunkDir", filepath.Join("var", "chunks"))
	v.SetDefault("upload.uploadDir", filepath.Join("var", "uploads"))
	v.SetDefault("upload.maxChunkSize", "12M")

	v.SetDefault("ingest.workers", 2)
	v.SetDefault("ingest.queueSize", 64)
	v.SetDefault("ingest.batchSize", 500)

	v.SetDefault("dataset.exportBatchSize", 1000)

	v.SetDefault("email.defaultFromEmail", "Tabula <noreply@localhost>")
	v.SetDefault("email.operatorEmail", "")
	v.SetDefault("email.sendgridApiKey", "")

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("config.os.Getwd(): %v", err)
	}

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Env:          env,
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		Build:        v.GetString("build"),
		AppName:      v.GetString("appName"),
		SecretKey:    v.GetString("secretKey"),
		RollbarToken: v.GetString("rollbarToken"),
		WorkDir:      wd,
		Server: ServerConfig{
			Host:               v.GetString("server.host"),
			Address:            v.GetString("server.address"),
			DebugHost:          v.GetString("server.debugHost"),
			ShutdownTimeout:    v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: v.GetDuration("server.jwtExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Upload: UploadConfig{
			ChunkDir:     v.GetString("upload.chunkDir"),
			UploadDir:    v.GetString("upload.uploadDir"),
			MaxChunkSize: v.GetString("upload.maxChunkSize"),
		},
		Ingest: IngestConfig{
			Workers:   v.GetInt("ingest.workers"),
			QueueSize: v.GetInt("ingest.queueSize"),
			BatchSize: v.GetInt("ingest.batchSize"),
		},
		Dataset: DatasetConfig{
			ExportBatchSize: v.GetInt("dataset.exportBatchSize"),
		},
		Email: EmailConfig{
			DefaultFromEmail: v.GetString("email.defaultFromEmail"),
			OperatorEmail:    v.GetString("email.operatorEmail"),
			SendgridApiKey:   v.GetString("email.sendgridApiKey"),
		},
	}
}
