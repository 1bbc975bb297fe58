// Package panel is the hosting control panel API client. It speaks the
// WHM-style JSON API (token auth, /json-api endpoints) used to create,
// look up and remove hosting accounts.
//
// Outbound calls go through a token-bucket rate limiter and a circuit
// breaker so a misbehaving panel cannot be hammered by a bulk run:
//
//	c := panel.New("https://panel.example.com:2087", "root", token)
//	ok, err := c.AccountExists(ctx, "site.example.com")
package panel
