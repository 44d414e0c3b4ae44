package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	UsingMemoryStore   string
	ServerListening    string
	ShuttingDown       string
	ShutdownComplete   string
	SystemMetricsInit  string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	APIServerError     string
	SettingsSeeded     string
	SettingsSeedFailed string

	// Accounts
	AdminCreated         string
	AdminExists          string
	AdminBootstrapFailed string
	EncryptionEnabled    string
	EncryptionDisabled   string
	EncryptionKeyInvalid string

	// Market
	OracleLive        string
	OracleMock        string
	MarketFeedStarted string

	// Settlement
	PollerStarted      string
	PollerStopped      string
	PollerDrainTimeout string
	AlertReceived      string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:           "Starting BinTrade core...",
	ConfigLoaded:       "Config loaded (Port: %s)",
	UsingDBPath:        "Using DB path: %s",
	UsingMemoryStore:   "Using in-memory store (data is lost on restart)",
	ServerListening:    "Server listening on :%s",
	ShuttingDown:       "Shutting down gracefully...",
	ShutdownComplete:   "Shutdown complete.",
	SystemMetricsInit:  "System metrics initialized",
	ConfigLoadFailed:   "Failed to load config: %v",
	DBInitFailed:       "Failed to init database: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	APIServerError:     "API server error: %v",
	SettingsSeeded:     "Seeded %d settings from %s",
	SettingsSeedFailed: "Failed to seed settings: %v",

	// Accounts
	AdminCreated:         "Bootstrap admin %q created",
	AdminExists:          "Bootstrap admin %q already exists",
	AdminBootstrapFailed: "Failed to create bootstrap admin: %v",
	EncryptionEnabled:    "Bank account numbers encrypted at rest (key v%d)",
	EncryptionDisabled:   "MASTER_ENCRYPTION_KEY not set; bank account numbers stored in clear",
	EncryptionKeyInvalid: "Invalid MASTER_ENCRYPTION_KEY: %v",

	// Market
	OracleLive:        "Price oracle using %s (vs=%s, top=%d, ttl=%s)",
	OracleMock:        "Price oracle using mock random-walk source",
	MarketFeedStarted: "Market feed publishing every %s",

	// Settlement
	PollerStarted:      "Settlement poller running every %s with %d workers",
	PollerStopped:      "Settlement poller stopped",
	PollerDrainTimeout: "Settlement poller did not stop within %s",
	AlertReceived:      "ALERT [%s] %s: %s",
}

// Chinese messages
var messagesZH = Messages{
	// System
	Starting:           "正在啟動 BinTrade 核心...",
	ConfigLoaded:       "配置已載入 (端口: %s)",
	UsingDBPath:        "使用資料庫路徑: %s",
	UsingMemoryStore:   "使用記憶體存儲（重啟後資料將遺失）",
	ServerListening:    "伺服器監聽於 :%s",
	ShuttingDown:       "正在優雅關閉...",
	ShutdownComplete:   "關閉完成。",
	SystemMetricsInit:  "系統指標已初始化",
	ConfigLoadFailed:   "載入配置失敗: %v",
	DBInitFailed:       "初始化資料庫失敗: %v",
	DBMigrationsFailed: "套用資料庫遷移失敗: %v",
	APIServerError:     "API 伺服器錯誤: %v",
	SettingsSeeded:     "已從 %[2]s 匯入 %[1]d 項設定",
	SettingsSeedFailed: "匯入設定失敗: %v",

	// Accounts
	AdminCreated:         "已建立初始管理員 %q",
	AdminExists:          "初始管理員 %q 已存在",
	AdminBootstrapFailed: "建立初始管理員失敗: %v",
	EncryptionEnabled:    "銀行帳號已加密儲存（金鑰 v%d）",
	EncryptionDisabled:   "未設定 MASTER_ENCRYPTION_KEY，銀行帳號以明文儲存",
	EncryptionKeyInvalid: "MASTER_ENCRYPTION_KEY 無效: %v",

	// Market
	OracleLive:        "價格來源 %s (計價=%s, 前 %d 名, 快取=%s)",
	OracleMock:        "價格來源使用模擬隨機漫步",
	MarketFeedStarted: "市場推送間隔 %s",

	// Settlement
	PollerStarted:      "結算輪詢每 %s 執行，%d 個工作者",
	PollerStopped:      "結算輪詢已停止",
	PollerDrainTimeout: "結算輪詢未在 %s 內停止",
	AlertReceived:      "警報 [%s] %s: %s",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
