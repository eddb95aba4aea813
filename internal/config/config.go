package config

import (
	"os"
)

type Config struct {
	DataDirectory string
	ServerPort    string
	ServerHost    string
	Environment   string
	ClientID      string
	RedirectURI   string
	WatchDir      string
}

func Load() *Config {
	dataDir := os.Getenv("GBASYNC_DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}

	serverPort := os.Getenv("GBASYNC_PORT")
	if serverPort == "" {
		serverPort = "8080"
	}

	serverHost := os.Getenv("GBASYNC_HOST")
	if serverHost == "" {
		serverHost = "localhost"
	}

	environment := os.Getenv("GBASYNC_ENV")
	if environment == "" {
		environment = "development"
	}

	clientID := os.Getenv("GBASYNC_CLIENT_ID")

	redirectURI := os.Getenv("GBASYNC_REDIRECT_URI")
	if redirectURI == "" {
		redirectURI = "http://localhost:8080/web/redirect"
	}

	// Optional: a directory of .sav files to mirror into the cloud.
	watchDir := os.Getenv("GBASYNC_WATCH_DIR")

	return &Config{
		DataDirectory: dataDir,
		ServerPort:    serverPort,
		ServerHost:    serverHost,
		Environment:   environment,
		ClientID:      clientID,
		RedirectURI:   redirectURI,
		WatchDir:      watchDir,
	}
}
