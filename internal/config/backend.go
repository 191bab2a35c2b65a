package config

// ConfigBackend abstracts config storage so tests can substitute an
// in-memory implementation for the JSON file backend.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
