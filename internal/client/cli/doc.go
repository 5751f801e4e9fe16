// Package cli provides the ZKDrop command-line client.
//
// Files are packed with their name and MIME type, encrypted locally with a
// fresh or password-derived AES-256-GCM key and uploaded as ciphertext.
// Share links carry an embedded key in their fragment unless the key is
// password-derived.
//
// Commands:
//   - upload [-ttl class] [-max n] [-password] [-kdf name] [-access] <file>
//   - download [-o dir] <link>
//   - info <link>
//   - delete <link>
package cli
