// Package auth is the session and credential security core of the ARMIS
// personnel-records application.
//
// It covers credential verification, access/refresh token lifecycle,
// TOTP multi-factor authentication with single-use backup codes, shared
// rate limiting, CSRF token issuance, and an append-only security event
// log. The [Engine] is the only entry point other code calls; leaf
// components live in the password, jwt, csrf and store subpackages.
//
// Personnel records themselves are external: the engine reads accounts
// through [CredentialStore]; its only write is the password-hash upgrade
// applied on a successful login.
package auth
