package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"sportmate/internal/storage"
	"sportmate/internal/token"
)

type signUpRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

func (s *Server) signUp(c echo.Context) error {
	var req signUpRequest
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	req.FullName = strings.TrimSpace(req.FullName)

	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return errJSON(c, http.StatusBadRequest, "a valid email is required")
	}
	if req.Username == "" {
		return errJSON(c, http.StatusBadRequest, "username is required")
	}
	if len(req.Password) < 8 {
		return errJSON(c, http.StatusBadRequest, "password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.log.Error().Err(err).Msg("hash password")
		return errJSON(c, http.StatusInternalServerError, "could not create account")
	}

	u, err := s.store.RegisterUser(c.Request().Context(), req.Email, req.Username, req.FullName, string(hash))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrEmailTaken):
			return errJSON(c, http.StatusConflict, "email already registered")
		case errors.Is(err, storage.ErrUsernameTaken):
			return errJSON(c, http.StatusConflict, "username already taken")
		default:
			s.log.Error().Err(err).Msg("register user")
			return errJSON(c, http.StatusInternalServerError, "could not create account")
		}
	}

	pair, err := s.tokens.Mint(u.ID, u.Username, u.FullName)
	if err != nil {
		s.log.Error().Err(err).Msg("mint tokens")
		return errJSON(c, http.StatusInternalServerError, "could not create account")
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"user":   userResponse{ID: u.ID, Email: u.Email, Username: u.Username, FullName: u.FullName},
		"tokens": pair,
	})
}

func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	u, err := s.store.GetUserByEmail(c.Request().Context(), req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errJSON(c, http.StatusUnauthorized, "invalid credentials")
		}
		s.log.Error().Err(err).Msg("lookup user")
		return errJSON(c, http.StatusInternalServerError, "could not log in")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		return errJSON(c, http.StatusUnauthorized, "invalid credentials")
	}

	pair, err := s.tokens.Mint(u.ID, u.Username, u.FullName)
	if err != nil {
		s.log.Error().Err(err).Msg("mint tokens")
		return errJSON(c, http.StatusInternalServerError, "could not log in")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"user":   userResponse{ID: u.ID, Email: u.Email, Username: u.Username, FullName: u.FullName},
		"tokens": pair,
	})
}

func (s *Server) refresh(c echo.Context) error {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	claims, err := s.tokens.VerifyRefresh(req.Refresh)
	if err != nil {
		return errJSON(c, http.StatusUnauthorized, "invalid refresh token")
	}
	pair, err := s.tokens.Mint(claims.Subject, claims.Username, claims.FullName)
	if err != nil {
		s.log.Error().Err(err).Msg("mint tokens")
		return errJSON(c, http.StatusInternalServerError, "could not refresh tokens")
	}
	return c.JSON(http.StatusOK, map[string]token.Pair{"tokens": pair})
}

func (s *Server) about(c echo.Context) error {
	ctx := c.Request().Context()
	uid := userID(c)

	u, err := s.store.GetUserByID(ctx, uid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errJSON(c, http.StatusNotFound, "account not found")
		}
		s.log.Error().Err(err).Msg("lookup user")
		return errJSON(c, http.StatusInternalServerError, "could not load account")
	}
	p, err := s.store.GetProfile(ctx, uid)
	if err != nil {
		s.log.Error().Err(err).Msg("lookup profile")
		return errJSON(c, http.StatusInternalServerError, "could not load account")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"email":          u.Email,
		"username":       u.Username,
		"full_name":      u.FullName,
		"favorite_sport": p.FavoriteSport,
		"details":        p.Details,
	})
}

func (s *Server) updateAbout(c echo.Context) error {
	var req struct {
		FavoriteSport string `json:"favorite_sport"`
		Details       string `json:"details"`
	}
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	req.FavoriteSport = strings.TrimSpace(req.FavoriteSport)
	req.Details = strings.TrimSpace(req.Details)
	if req.FavoriteSport == "" && req.Details == "" {
		return errJSON(c, http.StatusBadRequest, "favorite_sport or details is required")
	}

	err := s.store.UpdateProfile(c.Request().Context(), userID(c), req.FavoriteSport, req.Details)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrProfileLocked):
			return errJSON(c, http.StatusBadRequest, "About already updated.")
		case errors.Is(err, storage.ErrNotFound):
			return errJSON(c, http.StatusNotFound, "account not found")
		default:
			s.log.Error().Err(err).Msg("update profile")
			return errJSON(c, http.StatusInternalServerError, "could not update profile")
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "profile updated"})
}
