package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/betbot/deribit/deribit/types"
	"github.com/betbot/deribit/pkg/secretstore"
)

func main() {
	var (
		inPath    = flag.String("in", ".env", "input .env file path")
		dbPath    = flag.String("badger", getenv("DERIBIT_SECRET_DB", "data/secrets.badger"), "badger secrets db path")
		secretKey = flag.String("secret-key", getenv("DERIBIT_SECRET_KEY", ""), "badger encryption key (32 bytes base64/hex)")
		prefix    = flag.String("prefix", "env/", "key prefix for entries other than credentials")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("secret key is required: set DERIBIT_SECRET_KEY or pass -secret-key"))
	}

	kv, err := godotenv.Read(*inPath)
	if err != nil {
		fatal(fmt.Errorf("读取 %s 失败: %w", *inPath, err))
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
	})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	written, err := importEnv(ss, kv, *prefix)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "已导入 %d 项到 badger：%s（前缀 %s）\n", written, *dbPath, *prefix)
}

// importEnv 凭证写到固定键，其余条目按前缀原样写入
func importEnv(ss *secretstore.Store, kv map[string]string, prefix string) (int, error) {
	written := 0
	creds := types.Credentials{ClientID: kv["DERIBIT_CLIENT_ID"], ClientSecret: kv["DERIBIT_CLIENT_SECRET"]}
	if creds.ClientID != "" || creds.ClientSecret != "" {
		if err := ss.PutCredentials(creds); err != nil {
			return 0, err
		}
		written += 2
	}
	for k, v := range kv {
		if k == "DERIBIT_CLIENT_ID" || k == "DERIBIT_CLIENT_SECRET" {
			continue
		}
		if err := ss.SetString(prefix+k, v); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
