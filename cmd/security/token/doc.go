// Package token derives stable fingerprints of bearer credentials.
//
// Audit records and logs never carry a raw token or password; they carry a fingerprint so
// repeated use of one credential can be correlated without storing it.
//
// Two modes:
//   - SHA-256(secret) when no key is configured (dev).
//   - HMAC-SHA256(secret, key) when COWORK_AUDIT_HMAC_KEY is set. Production deployments
//     should require it so fingerprints cannot be brute-forced offline.
package token
