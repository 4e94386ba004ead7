// Package conf holds process-wide constants and environment switches
// consumed by the auth and transport layers.
package conf

import "os"

// Version is the SDK version embedded in the User-Agent string.
const Version = "1.0.0"

const (
	CONTENT_TYPE_FORM = "application/x-www-form-urlencoded"
	CONTENT_TYPE_JSON = "application/json"
)

// IsDisableQiniuTimestampSignature reports whether the X-Qiniu-Date
// anti-replay header should be omitted, controlled by
// QINIU_DISABLE_QINIU_TIMESTAMP_SIGNATURE for environments that proxy
// requests through something that strips or rewrites it.
func IsDisableQiniuTimestampSignature() bool {
	return os.Getenv("QINIU_DISABLE_QINIU_TIMESTAMP_SIGNATURE") == "true"
}
