package httputil

// API 錯誤代碼常數.
const (
	// 1000-1999: 身分相關錯誤 (401 / 403).
	ErrorCodeMissingIdentity = 1001
	ErrorCodeNotAuthor       = 1101

	// 2000-2999: 參數相關錯誤 (400 Bad Request).
	ErrorCodeInvalidParameter = 2001

	// 3000-3999: 流量相關錯誤 (429 Too Many Requests).
	ErrorCodeRateLimited = 3001

	// 4000-4999: 資源相關錯誤 (404 Not Found).
	ErrorCodeRecordNotFound = 4001

	// 5000-5999: 處理相關錯誤 (500 Internal Server Error).
	ErrorCodeProcessingFailed = 5001
)
