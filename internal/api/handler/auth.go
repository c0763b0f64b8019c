package handler

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/codecrow/codecrow-server/config"
	"github.com/codecrow/codecrow-server/internal/model/dto"
	"github.com/codecrow/codecrow-server/internal/pkg/jwt"
	"github.com/codecrow/codecrow-server/internal/pkg/response"
	"github.com/codecrow/codecrow-server/internal/repository"
)

type AuthHandler struct {
	userRepo *repository.UserRepository
	jwtCfg   config.JWTConfig
}

func NewAuthHandler(userRepo *repository.UserRepository, jwtCfg config.JWTConfig) *AuthHandler {
	return &AuthHandler{
		userRepo: userRepo,
		jwtCfg:   jwtCfg,
	}
}

// Login 用户登录
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	user, err := h.userRepo.GetByUsername(req.Username)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			// 不区分用户不存在和密码错误
			response.AuthError(c, "用户名或密码错误")
			return
		}
		response.ServerError(c, "")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		response.AuthError(c, "用户名或密码错误")
		return
	}

	token, err := jwt.GenerateToken(user.ID, h.jwtCfg.Secret, h.jwtCfg.ExpireHours)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, dto.LoginResponse{
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
	})
}
