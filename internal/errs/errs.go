// Package errs defines common error variables used across the application.
package errs

import "errors"

var (
	// ErrInvalidURL indicates that the URL field in the request is invalid.
	ErrInvalidURL = errors.New("invalid url field")
	// ErrInvalidOTP indicates that the otp field in the request is empty.
	ErrInvalidOTP = errors.New("invalid otp field")
	// ErrUnauthorized indicates that the request is missing a valid API key.
	ErrUnauthorized = errors.New("invalid or missing api key")
)

// Job errors.
var (
	// ErrJobNotFound indicates that the job is unknown or already completed.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNil indicates that the job is nil.
	ErrJobNil = errors.New("job is nil")
	// ErrTransfer indicates a stream-level failure while a job was running.
	ErrTransfer = errors.New("transfer failed")
)

// Provider errors.
var (
	// ErrProviderNotFound indicates that no configured provider claims the URL.
	ErrProviderNotFound = errors.New("no provider found for url")
	// ErrAuthorization indicates that the provider token exchange failed.
	ErrAuthorization = errors.New("provider authorization failed")
	// ErrUpstreamProvider indicates that the provider API returned a non-success payload.
	ErrUpstreamProvider = errors.New("upstream provider error")
)

// Archive errors.
var (
	// ErrExtraction indicates that the extraction tool exited with a nonzero code.
	ErrExtraction = errors.New("extraction failed")
	// ErrArchiveNotFound indicates that the archive is missing at extraction time.
	ErrArchiveNotFound = errors.New("archive not found")
	// ErrNoArchiveHandler indicates that no available handler matches the archive.
	ErrNoArchiveHandler = errors.New("no archive handler found")
	// ErrUnsafeArchivePath indicates that an archive entry would escape the target directory.
	ErrUnsafeArchivePath = errors.New("archive entry escapes target directory")
	// ErrFileSystem indicates a non-fatal filesystem failure around downloads or extraction.
	ErrFileSystem = errors.New("filesystem error")
)

// OTP errors.
var (
	// ErrOTPNotFound indicates that the otp is unknown or expired.
	ErrOTPNotFound = errors.New("otp not found")
)

// Proxy errors.
var (
	// ErrNoProxiesAvailable indicates that no proxies are available.
	ErrNoProxiesAvailable = errors.New("no proxies available")
)
