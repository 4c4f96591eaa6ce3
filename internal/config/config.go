package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const defaultConfigPath = "configs/config.yaml"

// Load 读取配置文件并结合环境变量返回 Config。
// 未设置环境变量前缀，因此 kraken.api_key 可直接由 KRAKEN_API_KEY 覆盖，
// 与原始脚本约定的变量名保持一致。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("kraken.base_url", "https://api.kraken.com")
	v.SetDefault("kraken.key_file", "kraken.key")
	v.SetDefault("kraken.api_key", "")
	v.SetDefault("kraken.api_secret", "")
	v.SetDefault("kraken.timeout", "30s")
	v.SetDefault("kraken.retry.max_attempts", 5)
	v.SetDefault("kraken.retry.min_delay", "500ms")
	v.SetDefault("kraken.retry.max_delay", "5s")

	v.SetDefault("purchase.settle_delay", "5s")
	v.SetDefault("purchase.poll_interval", "5s")
	v.SetDefault("purchase.order_timeout", "5m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
