// 生成本地调试用的 JWT
//
// 用法:
//
//	go run ./scripts/gen_token.go <user_id> [username]
//
// 读取与 cmd/root.go 相同的配置源，签发一个可直接用于
// Authorization header 或 WebSocket ?token= 参数的 token
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"parley/internal/config"
	"parley/internal/pkg/jwt"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: gen_token <user_id> [username]")
		os.Exit(1)
	}
	userID := os.Args[1]
	username := userID
	if len(os.Args) > 2 {
		username = os.Args[2]
	}

	// 与 cmd/root.go 保持一致的配置搜索路径
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.parley")

	viper.SetEnvPrefix("PARLEY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg config.Config
	if err := viper.ReadInConfig(); err == nil {
		if err := viper.Unmarshal(&cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to unmarshal config: %v\n", err)
			os.Exit(1)
		}
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = "default-secret-key-change-in-production"
	}
	expiry := cfg.Auth.AccessTokenExpiry
	if expiry == 0 {
		expiry = 24 * time.Hour
	}

	token, err := jwt.NewJWT(secret, expiry).GenerateToken(userID, username)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
