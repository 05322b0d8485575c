package config

type StorageKeyStruct struct{}

func NewStorageKeyStruct() *StorageKeyStruct {
	return &StorageKeyStruct{}
}

// TokenKey returns the storage key holding the bearer credential.
func (r *StorageKeyStruct) TokenKey() string {
	return "portal:token"
}

// UserKey returns the storage key holding the JSON profile snapshot.
func (r *StorageKeyStruct) UserKey() string {
	return "portal:user"
}

// TokenExpiryKey returns the storage key caching the decoded expiry
// timestamp for fast comparison without re-decoding the token.
func (r *StorageKeyStruct) TokenExpiryKey() string {
	return "portal:token_expiry"
}

// BroadcastChannel returns the pub/sub channel name used for cross-tab
// login/logout notifications.
func (r *StorageKeyStruct) BroadcastChannel() string {
	return "portal:broadcast"
}

var StorageKey = NewStorageKeyStruct()
