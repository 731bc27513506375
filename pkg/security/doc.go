/*
Package security provides the cluster's cryptographic primitives: a
Certificate Authority for mutual-TLS node identity (ca.go, certs.go) and
AES-256-GCM secrets encryption for Job content at rest (secrets.go).

The CA is a single self-signed root (RSA 4096, 10-year validity) that
issues short-lived node/client leaf certificates (RSA 2048, 90-day
validity). The root key and every issued secret are encrypted with a
cluster key derived as SHA-256(clusterID) before being persisted through
pkg/storage — nothing sensitive reaches disk in plaintext.

Secrets use a random 12-byte nonce per call and store [nonce || ciphertext
|| tag]; GCM's authentication tag means a tampered or corrupted ciphertext
fails decryption rather than returning garbage.
*/
package security
