// Package auth holds the registry's authentication primitives.
//
// Three credentials exist and never substitute for each other:
//
//   - API tokens ("Authorization: Bearer repub_..."), stored as SHA-256
//     hashes and carrying capability scopes,
//   - user browser sessions (repub_session cookie),
//   - admin browser sessions (repub_admin_session cookie).
//
// Passwords are hashed with bcrypt. At the transport boundary browsers
// encrypt passwords with the server's RSA-2048 public key (OAEP with
// SHA-256) so that TLS-terminating middleboxes never see them; the
// Keypair type owns that decryption.
package auth
