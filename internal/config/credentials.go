package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/zalando/go-keyring"
)

// Credentials 保存进程启动时一次性读取的敏感参数。
type Credentials struct {
	OpenAIAPIKey      string `envconfig:"OPENAI_API_KEY"`
	GeminiAPIKey      string `envconfig:"GEMINI_API_KEY"`
	WalletPassphrase  string `envconfig:"WALLET_PASSPHRASE"`
	FaucetPrivateKey  string `envconfig:"FAUCET_PRIVATE_KEY"`
	SponsorPrivateKey string `envconfig:"SPONSOR_PRIVATE_KEY"`
}

// LogValue 隐藏全部凭据内容，只暴露是否已配置。
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("openai", c.OpenAIAPIKey != ""),
		slog.Bool("gemini", c.GeminiAPIKey != ""),
		slog.Bool("passphrase", c.WalletPassphrase != ""),
		slog.Bool("faucet", c.FaucetPrivateKey != ""),
		slog.Bool("sponsor", c.SponsorPrivateKey != ""),
	)
}

// LoadCredentials 读取 .env（若存在）和环境变量，并在缺少必需凭据时失败。
// 钱包口令未通过环境变量提供时，会尝试从系统钥匙串读取。
func LoadCredentials(cfg *Config) (Credentials, error) {
	_ = godotenv.Load()

	var creds Credentials
	if err := envconfig.Process("", &creds); err != nil {
		return Credentials{}, fmt.Errorf("读取环境变量失败: %w", err)
	}

	if strings.TrimSpace(creds.WalletPassphrase) == "" {
		secret, err := keyring.Get(cfg.Keyring.Service, cfg.Keyring.User)
		switch {
		case err == nil:
			creds.WalletPassphrase = secret
		case errors.Is(err, keyring.ErrNotFound):
		default:
			return Credentials{}, fmt.Errorf("读取系统钥匙串失败: %w", err)
		}
	}

	if err := creds.validate(cfg); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

func (c Credentials) validate(cfg *Config) error {
	var missing []string
	switch cfg.LLM.Provider {
	case "openai":
		if strings.TrimSpace(c.OpenAIAPIKey) == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	case "gemini":
		if strings.TrimSpace(c.GeminiAPIKey) == "" {
			missing = append(missing, "GEMINI_API_KEY")
		}
	}
	if strings.TrimSpace(c.WalletPassphrase) == "" {
		missing = append(missing, "WALLET_PASSPHRASE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("缺少必需的凭据: %s", strings.Join(missing, ", "))
	}
	return nil
}
