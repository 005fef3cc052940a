// Package httpapi serves the otpgate JSON API over gin.
//
// Routes, all under /api:
//
//	POST    /send-otp        deliver a caller-supplied code
//	OPTIONS /send-otp        CORS preflight
//	POST    /auth/signup     {name,email,password} -> code sent, bootstrap cookie
//	POST    /auth/login      {email,password}      -> code sent, bootstrap cookie
//	POST    /auth/verify     {otp,flow}            -> token cookies + pair
//	POST    /auth/resend     {flow}
//	GET     /auth/pending    ?flow=                -> countdown
//	POST    /auth/refresh    cookie or {refresh_token} -> rotated pair
//	POST    /auth/logout
//	GET     /me              Bearer-protected
//
// Engine errors map to statuses in one place (respondEngineError):
// validation 400, mismatch 401, no challenge 404, expired 410, locked 423,
// cooldown and rate limit 429, delivery failure 502, invalid refresh 401.
package httpapi
