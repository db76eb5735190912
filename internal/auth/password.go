package auth

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/recipebox/internal/model"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 8

// maxPasswordBytes はbcryptが扱える入力長の上限。
const maxPasswordBytes = 72

const bcryptCost = 12

// ValidatePassword はパスワードの形式を検証する。
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上で入力してください", MinPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		return model.NewValidationError("パスワードが長すぎます")
	}
	return nil
}

// ValidateEmail はメールアドレスの形式を簡易的に検証する。
func ValidateEmail(email string) error {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t\r\n") {
		return model.NewValidationError("メールアドレスの形式が正しくありません")
	}
	return nil
}

// HashPassword はパスワードのbcryptハッシュを生成する。
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword はパスワードがハッシュと一致するかを返す。
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
