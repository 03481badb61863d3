// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/vidloom/accounts/internal/auth"
)

// Success messages.
const (
	msgRegistered         = "registration successful, please check your email for the verification code"
	msgEmailVerified      = "email verified successfully"
	msgVerificationResent = "verification code sent"
	msgLoggedIn           = "login successful"
	msgTokenRefreshed     = "token refreshed"
	msgForgotPassword     = "if an account with that email exists, a password reset code has been sent"
	msgResetCodeValid     = "reset code is valid"
	msgPasswordReset      = "password reset successful"
	msgLoggedOut          = "logged out"
	msgProfile            = "profile retrieved"
	msgProfileUpdated     = "profile updated"
	msgPasswordChanged    = "password changed successfully"
	msgAccountDeleted     = "account deleted"
)

type registerRequest struct {
	Name     string `json:"name" binding:"required,min=2,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type verifyEmailRequest struct {
	UserID string `json:"userId" binding:"required"`
	Code   string `json:"code" binding:"required,len=6,numeric"`
}

type userIDRequest struct {
	UserID string `json:"userId" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type resetCodeRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required,len=6,numeric"`
}

type resetPasswordRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Code        string `json:"code" binding:"required,len=6,numeric"`
	NewPassword string `json:"newPassword" binding:"required,min=8,max=128"`
}

type updateProfileRequest struct {
	Name string `json:"name" binding:"required,min=2,max=50"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=8,max=128"`
}

type deleteAccountRequest struct {
	Password string `json:"password" binding:"required"`
}

type sessionResponse struct {
	User         auth.Profile `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
}

func newSessionResponse(s *auth.Session) sessionResponse {
	return sessionResponse{
		User:         s.User,
		AccessToken:  s.Tokens.AccessToken,
		RefreshToken: s.Tokens.RefreshToken,
	}
}

type userResponse struct {
	User auth.Profile `json:"user"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err)
		return
	}
	id, err := s.accounts.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Envelope{
		Success: true,
		Message: msgRegistered,
		Data:    gin.H{"tempUserId": id.String()},
	})
}

func (s *Server) verifyEmail(c *gin.Context) {
	var req verifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err)
		return
	}
	id, valid := parseUserID(c, req.UserID)
	if !valid {
		return
	}
	session, err := s.accounts.VerifyEmail(c.Request.Context(), id, req.Code)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, msgEmailVerified, newSessionResponse(session))
}

func (s *Server) resendVerification(c *gin.Context) {
	var req userIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err)
		return
	}
	id, valid := parseUserID(c, req.UserID)
	if !valid {
		return
	}
	if err := s.accounts.ResendVerification(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	respond(c, msgVerificationResent, nil)
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err)
		return
	}
	session, err := s.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, msgLoggedIn, newSessionResponse(session))
}

func (s *Server) refreshToken(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err)
		return
	}
	pair, err := s.accounts.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, msgTokenRefreshed, pair)
}

func (s *Server) forgotPassword(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err)
		return
	}
	if err := s.accounts.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		s.fail(c, err)
		return
	}
	respond(c, msgForgotPassword, nil)
}

func (s *Server) verifyResetCode(c *gin.Context) {
	var req resetCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err)
		return
	}
	if err := s.accounts.VerifyResetCode(c.Request.Context(), req.Email, req.Code); err != nil {
		s.fail(c, err)
		return
	}
	respond(c, msgResetCodeValid, nil)
}

func (s *Server) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err)
		return
	}
	session, err := s.accounts.ResetPassword(c.Request.Context(), req.Email, req.Code, req.NewPassword)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, msgPasswordReset, newSessionResponse(session))
}

// logout is acknowledged only; tokens stay valid until they expire and the
// client is expected to discard them.
func (s *Server) logout(c *gin.Context) {
	respond(c, msgLoggedOut, nil)
}

func (s *Server) getProfile(c *gin.Context) {
	profile, err := s.accounts.GetProfile(c.Request.Context(), callerID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, msgProfile, userResponse{User: profile})
}

func (s *Server) updateProfile(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err)
		return
	}
	profile, err := s.accounts.UpdateProfile(c.Request.Context(), callerID(c), req.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, msgProfileUpdated, userResponse{User: profile})
}

func (s *Server) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err)
		return
	}
	if err := s.accounts.ChangePassword(c.Request.Context(), callerID(c), req.CurrentPassword, req.NewPassword); err != nil {
		s.fail(c, err)
		return
	}
	respond(c, msgPasswordChanged, nil)
}

func (s *Server) deleteAccount(c *gin.Context) {
	var req deleteAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err)
		return
	}
	if err := s.accounts.DeleteAccount(c.Request.Context(), callerID(c), req.Password); err != nil {
		s.fail(c, err)
		return
	}
	respond(c, msgAccountDeleted, nil)
}

// parseUserID rejects ids that are not ULIDs before they reach the service.
func parseUserID(c *gin.Context, raw string) (ulid.ULID, bool) {
	id, err := ulid.Parse(raw)
	if err != nil {
		abort(c, http.StatusBadRequest, auth.CodeValidationFailed, "userId is not a valid user id")
		return ulid.ULID{}, false
	}
	return id, true
}
