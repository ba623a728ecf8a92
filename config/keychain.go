package config

import "github.com/zalando/go-keyring"

const keychainService = "botcore"

// TokenFromKeychain reads the bot token stored for account.
func TokenFromKeychain(account string) (string, error) {
	return keyring.Get(keychainService, account)
}

// StoreToken saves the bot token for account in the OS keychain.
func StoreToken(account, token string) error {
	return keyring.Set(keychainService, account, token)
}

// DeleteToken removes the stored token for account.
func DeleteToken(account string) error {
	return keyring.Delete(keychainService, account)
}
