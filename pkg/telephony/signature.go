package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/url"
	"sort"
)

// SignPayload computes the provider webhook signature for a delivery: the
// HMAC-SHA1 of the full callback URL concatenated with each form parameter
// name and value in lexicographic order, base64-encoded. This is the scheme
// Twilio-compatible providers use for the X-Twilio-Signature header.
func SignPayload(authToken, callbackURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(callbackURL))
	for _, k := range keys {
		for _, v := range form[k] {
			mac.Write([]byte(k))
			mac.Write([]byte(v))
		}
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook delivery against its signature header.
func VerifySignature(authToken, signature, callbackURL string, form url.Values) bool {
	expected := SignPayload(authToken, callbackURL, form)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
