// Package devserver is an in-memory implementation of the portal's REST
// contract, used for offline development and integration tests. It mirrors
// the production backend's surface (auth, profile, exam fetch/submit) and
// response envelope, with seeded accounts and one seeded exam.
package devserver

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stemsi/exstem-portal/internal/token"
	"golang.org/x/crypto/bcrypt"
)

// SeedPassword is the password of every seeded account.
const SeedPassword = "password123"

type account struct {
	user         model.User
	passwordHash []byte
}

// Server holds the stub backend's in-memory state.
type Server struct {
	cfg *config.Config
	log zerolog.Logger

	mu          sync.Mutex
	accounts    map[string]*account // Keyed by username.
	nextID      int
	exam        model.ExamPayload
	answerKey   map[string]string
	submissions map[int]*model.SubmitResult // Keyed by user ID.
}

// New creates a stub server with seeded accounts (one per role) and one
// seeded exam whose deadline is a short window from now.
func New(cfg *config.Config, log zerolog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		log:         log.With().Str("component", "devserver").Logger(),
		accounts:    make(map[string]*account),
		nextID:      1,
		submissions: make(map[int]*model.SubmitResult),
	}

	s.seedAccount("siswa", "siswa@example.com", model.RoleStudent, "Siswa Contoh")
	s.seedAccount("pengajar", "pengajar@example.com", model.RoleInstructor, "Pengajar Contoh")
	s.seedAccount("admin", "admin@example.com", model.RoleAdmin, "Admin Contoh")
	s.seedExam(45 * time.Minute)

	return s
}

func (s *Server) seedAccount(username, email string, role model.Role, fullName string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(SeedPassword), s.cfg.BcryptCost)
	if err != nil {
		panic(fmt.Sprintf("seed account %s: %v", username, err))
	}

	s.accounts[username] = &account{
		user: model.User{
			ID:       s.nextID,
			Username: username,
			Email:    email,
			Role:     role,
			FullName: fullName,
		},
		passwordHash: hash,
	}
	s.nextID++
}

func (s *Server) seedExam(window time.Duration) {
	now := time.Now()
	s.exam = model.ExamPayload{
		Exam: model.Exam{
			ID:          "exam-matematika-1",
			Title:       "Ujian Tengah Semester",
			CourseTitle: "Matematika Dasar",
			StartTime:   now,
			EndTime:     now.Add(window),
		},
		Questions: []model.Question{
			{ID: "q1", Type: model.QuestionTypeSingleChoice, Stem: "Berapakah 7 × 8?",
				Options: []model.Option{{Key: "A", Text: "54"}, {Key: "B", Text: "56"}, {Key: "C", Text: "58"}}, Score: 25},
			{ID: "q2", Type: model.QuestionTypeMultipleChoice, Stem: "Manakah yang merupakan bilangan prima?",
				Options: []model.Option{{Key: "A", Text: "2"}, {Key: "B", Text: "9"}, {Key: "C", Text: "11"}}, Score: 25},
			{ID: "q3", Type: model.QuestionTypeTrueFalse, Stem: "Akar kuadrat dari 81 adalah 9.", Score: 25},
			{ID: "q4", Type: model.QuestionTypeShortAnswer, Stem: "Sebutkan hasil dari 12 + 13.", Score: 25},
		},
	}
	s.answerKey = map[string]string{
		"q1": "B",
		"q2": "A,C",
		"q3": "true",
		"q4": "25",
	}
}

// Router builds the gin engine implementing the portal contract under
// /api/v1, with the production backend's envelope and CORS defaults.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.MaxAge = 12 * time.Hour
	engine.Use(cors.New(corsConfig))

	v1 := engine.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/login", s.handleLogin)
			auth.POST("/register", s.handleRegister)
			auth.GET("/me", s.requireAuth, s.handleMe)
			auth.PUT("/profile", s.requireAuth, s.handleUpdateProfile)
			auth.PUT("/password", s.requireAuth, s.handleChangePassword)
		}

		exams := v1.Group("/exams", s.requireAuth)
		{
			exams.GET("/:id", s.handleGetExam)
			exams.POST("/:id/submit", s.handleSubmitExam)
		}
	}

	return engine
}

// signToken issues an HS256 JWT carrying the portal's claims.
func (s *Server) signToken(user model.User) (string, error) {
	now := time.Now()
	claims := token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
}

const contextKeyClaims = "claims"

// requireAuth validates the bearer token from the Authorization header.
func (s *Server) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	claims := &token.Claims{}
	parsed, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
		return
	}

	c.Set(contextKeyClaims, claims)
	c.Next()
}

// claimsFrom retrieves the validated claims from the gin context.
func claimsFrom(c *gin.Context) *token.Claims {
	val, exists := c.Get(contextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*token.Claims)
	if !ok {
		return nil
	}
	return claims
}
