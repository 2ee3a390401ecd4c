package service

const (
	EntityRoot = "root"

	ApiKeyPrefix = "vfk_"
)
