// Package jwt issues and verifies the signed access tokens handed out after
// a successful OTP verification or refresh.
package jwt
