// Package keys handles the short-lived CSCS key pair on disk.
//
// The key service returns two blobs: an OpenSSH private key and the matching
// public key signed by the CSCS certificate authority. Material holds them in
// memory after validation; Pair knows where they live on disk; FileInstaller
// writes them there.
//
// # Files
//
// By default the pair is stored in ~/.ssh:
//
//	~/.ssh/cscs-key           private key, mode 0600
//	~/.ssh/cscs-key-cert.pub  certificate, mode 0644
//
// The directory is created with mode 0700 when missing.
//
// # Installation
//
// FileInstaller writes both files to temporary files in the target directory
// and renames them into place. When replacing a pair, the old private key is
// kept aside until the certificate is in place and restored if that rename
// fails, so a failed install never leaves one half of a pair behind.
//
// A private key can be protected with a passphrase before it is written:
//
//	m, err = m.Encrypt(passphrase)
//
// # Expiry
//
// Keys issued by CSCS are valid for one day. When the public half is an SSH
// certificate its ValidBefore is authoritative; otherwise the pair is
// considered expired DefaultValidity after it was issued (or, on disk, after
// the private key was last modified).
//
// # Security Notes
//
// Material never prints the private key. Callers should call Zero once the
// material is no longer needed.
package keys
