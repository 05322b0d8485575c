// Command portal is the terminal rendition of the student portal: one
// process is one "tab". Session state is shared with other running tabs
// through Redis so that login and logout propagate between them; without
// Redis it falls back to an in-memory store and behaves as a lone tab.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/api"
	"github.com/stemsi/exstem-portal/internal/broadcast"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/exam"
	"github.com/stemsi/exstem-portal/internal/logger"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/nav"
	"github.com/stemsi/exstem-portal/internal/notify"
	"github.com/stemsi/exstem-portal/internal/session"
	"github.com/stemsi/exstem-portal/internal/storage"
	"github.com/stemsi/exstem-portal/internal/validator"
	"golang.org/x/term"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("api", cfg.APIBaseURL).
		Str("client_id", cfg.ClientID).
		Msg("Starting portal")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	// ─── Connect Shared Storage ────────────────────────────────────────
	store, bus := connectStorage(ctx, cfg, log)
	defer store.Close()
	defer bus.Close()

	// ─── Wire Session Manager ──────────────────────────────────────────
	notifier := notify.NewLogNotifier(log)
	client := api.NewClient(cfg, log)
	manager := session.NewManager(cfg, store, bus, client, notifier, log)
	manager.SetRedirect(func(view string) {
		fmt.Printf("\n>> Dialihkan ke %s\n", view)
	})

	if err := manager.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("Session init failed")
	}

	p := &portal{
		cfg:     cfg,
		log:     log,
		client:  client,
		manager: manager,
		in:      bufio.NewReader(os.Stdin),
	}
	p.run(ctx)

	log.Info().Msg("Sampai jumpa")
}

// connectStorage picks Redis when reachable so multiple portal processes
// share one session, and degrades to a per-process store otherwise.
func connectStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.Store, broadcast.Bus) {
	rs, err := storage.NewRedisStore(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, session will not be shared across tabs")
		return storage.NewMemoryStore(), broadcast.NewMemoryBus()
	}
	return rs, broadcast.NewRedisBus(rs.Client(), config.StorageKey.BroadcastChannel(), log)
}

// portal drives the interactive loop.
type portal struct {
	cfg     *config.Config
	log     zerolog.Logger
	client  *api.Client
	manager *session.Manager
	in      *bufio.Reader
}

func (p *portal) run(ctx context.Context) {
	for ctx.Err() == nil {
		if !p.manager.Current().IsAuthenticated() {
			if !p.loginScreen(ctx) {
				return
			}
			continue
		}
		if !p.homeScreen(ctx) {
			return
		}
	}
}

// loginScreen prompts for credentials until login succeeds or the user
// quits. Returns false to exit the portal.
func (p *portal) loginScreen(ctx context.Context) bool {
	p.manager.SetView(session.LoginView)

	fmt.Println("\n=== Masuk ke Portal ===")
	fmt.Println("(ketik 'keluar' untuk menutup)")

	username := p.prompt("Username: ")
	if username == "keluar" || username == "" && ctx.Err() != nil {
		return false
	}
	password := p.promptPassword("Password: ")

	req := model.LoginRequest{Username: username, Password: password}
	if fields := validator.Struct(req); fields != nil {
		for name, msg := range fields {
			fmt.Printf("  %s: %s\n", name, msg)
		}
		return true
	}

	user, err := p.manager.Login(ctx, username, password)
	if err != nil {
		n := notify.FromError(err)
		fmt.Printf("Login gagal: %s\n", n.Message)
		return true
	}

	fmt.Printf("Selamat datang, %s!\n", displayName(user))
	return true
}

// homeScreen shows the role menu and dispatches commands. Returns false to
// exit the portal.
func (p *portal) homeScreen(ctx context.Context) bool {
	snap := p.manager.Current()
	if snap.User == nil {
		return true
	}

	capability := nav.For(snap.User.Role)
	p.manager.SetView(capability.DefaultRoute)

	fmt.Printf("\n=== Portal %s: %s ===\n", capability.Label, displayName(snap.User))
	for _, item := range capability.Menu {
		fmt.Printf("  %-18s %s\n", item.Label, item.Route)
	}
	if remaining, ok := p.manager.TimeUntilExpiry(); ok {
		fmt.Printf("Sesi berakhir dalam %s\n", remaining.Round(time.Minute))
	}
	fmt.Println("Perintah: profil | sandi | ujian <id> | logout | keluar")

	line := p.prompt("> ")
	cmd, arg, _ := strings.Cut(line, " ")

	switch cmd {
	case "profil":
		p.profileScreen(ctx)
	case "sandi":
		p.passwordScreen(ctx)
	case "ujian":
		if arg == "" {
			fmt.Println("Sebutkan ID ujian, contoh: ujian exam-matematika-1")
			break
		}
		p.examScreen(ctx, arg)
	case "logout":
		if err := p.manager.Logout(ctx); err != nil {
			p.log.Warn().Err(err).Msg("Logout failed")
		}
		fmt.Println("Anda telah keluar.")
	case "keluar", "exit", "quit":
		return false
	case "":
		// Re-render the menu; also how a cross-tab logout becomes visible.
	default:
		fmt.Printf("Perintah tidak dikenal: %s\n", cmd)
	}
	return true
}

func (p *portal) profileScreen(ctx context.Context) {
	snap := p.manager.Current()
	u := snap.User
	fmt.Println("\n=== Profil ===")
	fmt.Printf("  Nama     : %s\n", u.FullName)
	fmt.Printf("  Username : %s\n", u.Username)
	fmt.Printf("  Email    : %s\n", u.Email)
	fmt.Printf("  Peran    : %s\n", u.Role)

	if p.prompt("Perbarui profil? (y/T): ") != "y" {
		return
	}

	req := model.UpdateProfileRequest{
		FullName: p.prompt("Nama lengkap (kosongkan untuk tetap): "),
		Email:    p.prompt("Email (kosongkan untuk tetap): "),
	}
	if fields := validator.Struct(req); fields != nil {
		for name, msg := range fields {
			fmt.Printf("  %s: %s\n", name, msg)
		}
		return
	}

	updated, err := p.manager.UpdateProfile(ctx, req)
	if err != nil {
		fmt.Printf("Gagal memperbarui profil: %s\n", notify.FromError(err).Message)
		return
	}
	fmt.Printf("Profil diperbarui: %s <%s>\n", updated.FullName, updated.Email)
}

func (p *portal) passwordScreen(ctx context.Context) {
	req := model.ChangePasswordRequest{
		OldPassword: p.promptPassword("Password lama: "),
		NewPassword: p.promptPassword("Password baru: "),
	}
	if fields := validator.Struct(req); fields != nil {
		for name, msg := range fields {
			fmt.Printf("  %s: %s\n", name, msg)
		}
		return
	}

	if err := p.manager.ChangePassword(ctx, req); err != nil {
		fmt.Printf("Gagal mengganti password: %s\n", notify.FromError(err).Message)
		return
	}
	fmt.Println("Password berhasil diganti.")
}

// examScreen runs one timed attempt: fetch, answer question by question,
// submit. The countdown submits whatever has been answered when the window
// closes, even mid-prompt.
func (p *portal) examScreen(ctx context.Context, examID string) {
	runner := exam.NewRunner(p.client, p.log)
	if err := runner.Load(ctx, examID); err != nil {
		fmt.Printf("Gagal memuat ujian: %s\n", notify.FromError(err).Message)
		return
	}

	e := runner.Exam()
	fmt.Printf("\n=== %s (%s) ===\n", e.Title, e.CourseTitle)
	fmt.Printf("Sisa waktu: %s\n", runner.Remaining().Round(time.Second))

	runner.OnDeadline(func(result *model.SubmitResult, err error) {
		if err != nil {
			fmt.Printf("\n>> Waktu habis, pengumpulan otomatis gagal: %s\n", notify.FromError(err).Message)
			return
		}
		fmt.Printf("\n>> Waktu habis. Jawaban dikumpulkan otomatis, nilai: %.1f\n", result.TotalScore)
	})
	runner.StartCountdown()
	defer runner.StopCountdown()

	for i, q := range runner.Questions() {
		if runner.Submitted() {
			return
		}
		fmt.Printf("\nSoal %d/%d [%s]\n%s\n", i+1, len(runner.Questions()), q.Type, q.Stem)
		for _, opt := range q.Options {
			fmt.Printf("  %s. %s\n", opt.Key, opt.Text)
		}

		answer := p.readAnswer(q)
		if answer != "" {
			runner.SetAnswer(q.ID, answer)
		}
	}

	if runner.Submitted() {
		return
	}
	fmt.Printf("\nTerjawab %d dari %d soal.\n", runner.AnsweredCount(), len(runner.Questions()))
	if p.prompt("Kumpulkan sekarang? (y/T): ") != "y" {
		fmt.Println("Jawaban tetap tersimpan sampai waktu habis.")
		// Block until the countdown fires so the attempt always ends in a
		// submission.
		for !runner.Submitted() && ctx.Err() == nil {
			time.Sleep(time.Second)
		}
		return
	}

	result, err := runner.Submit(ctx)
	if err != nil {
		fmt.Printf("Gagal mengumpulkan: %s\n", notify.FromError(err).Message)
		return
	}
	fmt.Printf("Ujian terkumpul. Nilai: %.1f\n", result.TotalScore)
}

// readAnswer prompts per question type and returns the canonical answer
// encoding.
func (p *portal) readAnswer(q model.Question) string {
	switch q.Type {
	case model.QuestionTypeSingleChoice:
		return strings.ToUpper(p.prompt("Jawaban (satu huruf, kosong untuk lewati): "))
	case model.QuestionTypeMultipleChoice:
		raw := strings.ToUpper(p.prompt("Jawaban (huruf dipisah koma, kosong untuk lewati): "))
		if raw == "" {
			return ""
		}
		var keys []string
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		return exam.EncodeChoices(keys)
	case model.QuestionTypeTrueFalse:
		switch strings.ToLower(p.prompt("Benar atau salah? (b/s, kosong untuk lewati): ")) {
		case "b":
			return exam.EncodeBool(true)
		case "s":
			return exam.EncodeBool(false)
		default:
			return ""
		}
	default:
		return p.prompt("Jawaban (kosong untuk lewati): ")
	}
}

func (p *portal) prompt(label string) string {
	fmt.Print(label)
	line, err := p.in.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(line)
}

func (p *portal) promptPassword(label string) string {
	fmt.Print(label)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		// Piped stdin has no terminal; fall back to a plain read.
		return p.prompt("")
	}
	return strings.TrimSpace(string(raw))
}

func displayName(u *model.User) string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
