package config

func defaultBackend() string { return BackendWASAPI }
