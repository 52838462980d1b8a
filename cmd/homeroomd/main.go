// Command homeroomd runs the Homeroom identity service.
package main

import (
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/homeroomhq/identity"
	fsstore "github.com/homeroomhq/identity/stores/fs"
	redisstore "github.com/homeroomhq/identity/stores/redis"
)

type Config struct {
	Addr        string
	BaseURL     string
	StoragePath string

	// Redis address for the shared session registry. Empty keeps sessions
	// in process memory.
	RedisAddr string

	// Google OAuth client id; assertions are verified against it as the
	// expected audience. Setting the secret as well enables the
	// server-driven redirect flow at /auth/google.
	GoogleClientID     string
	GoogleClientSecret string

	MinPasswordLength int
}

func (c *Config) EnsureDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost" + c.Addr
	}
	if c.StoragePath == "" {
		c.StoragePath = "./data"
	}
}

func loadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment")
	}

	cfg := &Config{
		Addr:               os.Getenv("HOMEROOM_ADDR"),
		BaseURL:            os.Getenv("HOMEROOM_BASE_URL"),
		StoragePath:        os.Getenv("HOMEROOM_STORAGE_PATH"),
		RedisAddr:          os.Getenv("HOMEROOM_REDIS_ADDR"),
		GoogleClientID:     os.Getenv("HOMEROOM_GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("HOMEROOM_GOOGLE_CLIENT_SECRET"),
	}
	if v := os.Getenv("HOMEROOM_MIN_PASSWORD_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinPasswordLength = n
		}
	}
	cfg.EnsureDefaults()
	return cfg
}

func main() {
	cfg := loadConfig()

	users, err := fsstore.NewUserStore(cfg.StoragePath)
	if err != nil {
		log.Fatal("error opening user store: ", err)
	}
	invites := fsstore.NewInviteStore(cfg.StoragePath)

	var sessions identity.SessionStore
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		sessions = redisstore.NewSessionStore(client)
		log.Println("using redis session store at ", cfg.RedisAddr)
	} else {
		sessions = identity.NewMemorySessionStore()
		log.Println("using in-memory session store; sessions will not survive restarts")
	}

	auth := identity.New(users, invites, sessions)
	auth.BaseURL = cfg.BaseURL
	auth.MinPasswordLength = cfg.MinPasswordLength
	if cfg.GoogleClientID != "" {
		auth.VerifyAssertion = identity.GoogleAssertionVerifier(cfg.GoogleClientID)
	}
	if cfg.GoogleClientSecret != "" {
		auth.GoogleClientID = cfg.GoogleClientID
		auth.GoogleClientSecret = cfg.GoogleClientSecret
		auth.GoogleCallbackURL = cfg.BaseURL + "/auth/google/callback"
	}

	log.Println("homeroomd listening on ", cfg.Addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, auth.Handler()))
}
