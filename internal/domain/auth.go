package domain

import "github.com/golang-jwt/jwt/v5"

// CustomClaims — полезная нагрузка токена API: кто пользователь и от имени какой персоны он действует.
type CustomClaims struct {
	UserID  string `json:"user_id"`
	ActorID string `json:"actor_id"`
	jwt.RegisteredClaims
}
