// filelocker locks files and folders into password-protected containers.
//
// Containers are AES-256-CBC ciphertext followed by a trailer holding the
// original name, type, timestamps and an optional encrypted thumbnail.
// Keys are derived with PBKDF2-HMAC-SHA1 from the password and a salt
// taken from configuration.
package main

import (
	"os"

	"filelocker/internal/cli"
)

// version is the application version printed by --version.
const version = "v1.0.0"

func main() {
	os.Exit(cli.Execute(version))
}
