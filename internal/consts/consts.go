// Package consts defines application-wide constants.
package consts

import "time"

const (
	// DefaultHandlerTimeout is the default timeout for HTTP handlers.
	DefaultHandlerTimeout = 30 * time.Second
	// DefaultChunkSize is the default read buffer size for transfers.
	DefaultChunkSize = 32 * 1024
	// DefaultProviderTimeout is the default timeout for provider token and metadata calls.
	DefaultProviderTimeout = 30 * time.Second
	// DefaultDirPerm is the permission used for created library directories.
	DefaultDirPerm = 0o755
	// DefaultFilePerm is the permission used for downloaded files.
	DefaultFilePerm = 0o644
	// SeasonDirPrefix prefixes season directories: Season04.
	SeasonDirPrefix = "Season"
	// ExtractedDirName is the fallback directory for archives without season info.
	ExtractedDirName = "extracted"
	// FallbackArchiveDirName replaces archive names that do not form a usable directory.
	FallbackArchiveDirName = "archive"
	// FallbackFilePrefix names downloads whose provider reported no filename.
	FallbackFilePrefix = "download-"
)

// HTTP headers.
const (
	// HeaderAPIKey carries the shared API key.
	HeaderAPIKey = "X-Api-Key"
)

// HTTP response messages.
const (
	// RespInvalidRequestBody is returned when the request body is invalid.
	RespInvalidRequestBody = "invalid request body"
	// RespQueryParamMissing is returned when a required query parameter is missing or invalid.
	RespQueryParamMissing = "query param missing or invalid"
	// RespUnprocessableEntity is returned when the request cannot be processed.
	RespUnprocessableEntity = "unprocessable entity"
	// RespUnauthorized is returned when the api key is missing or wrong.
	RespUnauthorized = "unauthorized"
	// RespDownloadStarted is returned when a download is started.
	RespDownloadStarted = "download started"
	// RespDownloadFail is returned when a download cannot be started.
	RespDownloadFail = "download failed"
	// RespDownloadsRetrieved is returned when downloads are listed.
	RespDownloadsRetrieved = "downloads retrieved"
	// RespDownloadRetrieved is returned when a download is retrieved.
	RespDownloadRetrieved = "download retrieved"
	// RespDownloadCancelled is returned when a download is cancelled.
	RespDownloadCancelled = "download cancelled"
	// RespDownloadNotFound is returned when a download is unknown or already completed.
	RespDownloadNotFound = "download not found or already completed"
	// RespNoProvider is returned when no provider claims a URL.
	RespNoProvider = "no provider found for this url"
	// RespProviderUnauthorized is returned when the provider token exchange fails.
	RespProviderUnauthorized = "failed to get access token"
	// RespProviderError is returned when the provider API fails.
	RespProviderError = "error from provider api"
	// RespMediaInfoRetrieved is returned when media info is retrieved.
	RespMediaInfoRetrieved = "media info retrieved"
	// RespOTPIssued is returned when an otp is issued.
	RespOTPIssued = "otp issued"
	// RespOTPValidated is returned when an otp is validated.
	RespOTPValidated = "otp validated"
	// RespOTPStatus is returned with the validation status of an otp.
	RespOTPStatus = "otp status"
	// RespOTPIssueFail is returned when an otp cannot be generated.
	RespOTPIssueFail = "otp issue failed"
)

// Provider identifiers.
const (
	// ProviderOneFichier is the 1fichier provider identifier.
	ProviderOneFichier = "1fichier"
	// ProviderMock is the mock provider identifier for testing.
	ProviderMock = "mock"
)

// Archive handler identifiers.
const (
	// HandlerZip extracts zip and cbz archives with unzip.
	HandlerZip = "zip"
	// HandlerRar extracts rar and cbr archives with unrar.
	HandlerRar = "rar"
	// HandlerTarXZ extracts tar.xz archives in process.
	HandlerTarXZ = "tarxz"
)

// Mock provider.
const (
	// DefaultMockSimulateTime is how long a simulated mock transfer lasts.
	DefaultMockSimulateTime = 10 * time.Second
	// DefaultMockFileSize is the size of a simulated mock file.
	DefaultMockFileSize = 1 << 20
	// DefaultMockHost is the host claimed by the mock provider.
	DefaultMockHost = "mock.medialoader.local"
)
