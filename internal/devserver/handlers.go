package devserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stemsi/exstem-portal/internal/validator"
	"golang.org/x/crypto/bcrypt"
)

// handleLogin implements POST /auth/login.
func (s *Server) handleLogin(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrInvalidPayload, validator.TranslateErrors(err))
		return
	}
	if fields := validator.Struct(req); fields != nil {
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrValidation, fields)
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[req.Username]
	s.mu.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(req.Password)) != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	tok, err := s.signToken(acc.user)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	s.log.Info().Str("username", acc.user.Username).Str("role", string(acc.user.Role)).Msg("Login")
	response.Success(c, http.StatusOK, model.LoginResponse{AccessToken: tok, User: acc.user})
}

// handleRegister implements POST /auth/register.
func (s *Server) handleRegister(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrInvalidPayload, validator.TranslateErrors(err))
		return
	}
	if fields := validator.Struct(req); fields != nil {
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrValidation, fields)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	s.mu.Lock()
	if _, exists := s.accounts[req.Username]; exists {
		s.mu.Unlock()
		response.Fail(c, http.StatusConflict, response.ErrConflict)
		return
	}

	user := model.User{
		ID:       s.nextID,
		Username: req.Username,
		Email:    req.Email,
		Role:     req.Role,
		FullName: req.FullName,
	}
	s.nextID++
	s.accounts[req.Username] = &account{user: user, passwordHash: hash}
	s.mu.Unlock()

	response.Success(c, http.StatusCreated, user)
}

// handleMe implements GET /auth/me.
func (s *Server) handleMe(c *gin.Context) {
	acc := s.accountFor(claimsFrom(c).UserID)
	if acc == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
		return
	}
	response.Success(c, http.StatusOK, acc.user)
}

// handleUpdateProfile implements PUT /auth/profile. Only profile fields
// change; the caller's token stays valid.
func (s *Server) handleUpdateProfile(c *gin.Context) {
	var req model.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrInvalidPayload, validator.TranslateErrors(err))
		return
	}
	if fields := validator.Struct(req); fields != nil {
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrValidation, fields)
		return
	}

	claims := claimsFrom(c)

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.accountForLocked(claims.UserID)
	if acc == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
		return
	}

	if req.Email != "" {
		acc.user.Email = req.Email
	}
	if req.FullName != "" {
		acc.user.FullName = req.FullName
	}
	if req.AvatarURL != "" {
		acc.user.AvatarURL = req.AvatarURL
	}
	if req.Phone != "" {
		acc.user.Phone = req.Phone
	}
	if req.Gender != "" {
		acc.user.Gender = req.Gender
	}
	if req.Bio != "" {
		acc.user.Bio = req.Bio
	}

	response.Success(c, http.StatusOK, acc.user)
}

// handleChangePassword implements PUT /auth/password.
func (s *Server) handleChangePassword(c *gin.Context) {
	var req model.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrInvalidPayload, validator.TranslateErrors(err))
		return
	}
	if fields := validator.Struct(req); fields != nil {
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrValidation, fields)
		return
	}

	claims := claimsFrom(c)

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.accountForLocked(claims.UserID)
	if acc == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
		return
	}

	// A mistyped old password is a rejected input, not a token failure:
	// only genuine authentication failures may answer 401, because the
	// client ends the session on any authenticated 401.
	if bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(req.OldPassword)) != nil {
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrValidation,
			map[string]string{"old_password": "Password lama tidak sesuai."})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.cfg.BcryptCost)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	acc.passwordHash = hash

	response.Success(c, http.StatusOK, gin.H{})
}

// handleGetExam implements GET /exams/:id. Students only.
func (s *Server) handleGetExam(c *gin.Context) {
	claims := claimsFrom(c)
	if claims.Role != model.RoleStudent {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Param("id") != s.exam.Exam.ID {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, s.exam)
}

// handleSubmitExam implements POST /exams/:id/submit. Scores the submitted
// answers against the seeded key; exactly one submission per student.
func (s *Server) handleSubmitExam(c *gin.Context) {
	claims := claimsFrom(c)
	if claims.Role != model.RoleStudent {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	var req model.SubmitExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrInvalidPayload, validator.TranslateErrors(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Param("id") != s.exam.Exam.ID {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	if _, done := s.submissions[claims.UserID]; done {
		response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
		return
	}

	// Unanswered questions simply score zero; an empty answer list is a
	// valid submission.
	var total float64
	scores := make(map[string]float64, len(s.exam.Questions))
	for _, q := range s.exam.Questions {
		scores[q.ID] = q.Score
	}
	for _, ans := range req.Answers {
		if s.answerKey[ans.QuestionID] == ans.Answer {
			total += scores[ans.QuestionID]
		}
	}

	result := &model.SubmitResult{
		SubmissionID: uuid.New().String(),
		TotalScore:   total,
	}
	s.submissions[claims.UserID] = result

	s.log.Info().
		Str("username", claims.Username).
		Int("answers", len(req.Answers)).
		Float64("score", total).
		Msg("Exam submitted")
	response.Success(c, http.StatusOK, result)
}

// accountFor looks an account up by user ID, taking the lock.
func (s *Server) accountFor(userID int) *account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountForLocked(userID)
}

// accountForLocked looks an account up by user ID. Caller holds s.mu.
func (s *Server) accountForLocked(userID int) *account {
	for _, acc := range s.accounts {
		if acc.user.ID == userID {
			return acc
		}
	}
	return nil
}
