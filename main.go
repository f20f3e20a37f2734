package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/gin-gonic/gin"

	"github.com/Zachkp/portfolio/internal/analytics"
	"github.com/Zachkp/portfolio/internal/config"
	"github.com/Zachkp/portfolio/internal/content"
	"github.com/Zachkp/portfolio/internal/navsession"
)

type navLink struct {
	ID     string
	Label  string
	Active bool
}

func navLinks(p *content.Portfolio, active string) []navLink {
	links := make([]navLink, 0, len(p.Sections))
	for _, s := range p.Sections {
		links = append(links, navLink{ID: s.ID, Label: s.Label, Active: s.ID == active})
	}
	return links
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	portfolio, err := content.Load(cfg.ContentPath)
	if err != nil {
		log.Fatalf("Failed to load content: %v", err)
	}

	store, err := analytics.Open(cfg.DBPath, cfg.AnalyticsSalt)
	if err != nil {
		log.Fatalf("Failed to open analytics database: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		log.Fatalf("Failed to migrate analytics database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Clean up old section views for privacy compliance
	go func() {
		if _, err := store.Cleanup(ctx, cfg.AnalyticsRetention); err != nil {
			log.Printf("Error cleaning up old section views: %v", err)
		}
	}()

	nav := navsession.NewRegistry(navsession.Config{
		DefaultSection: cfg.Nav.DefaultSection,
		RootMargin:     cfg.Nav.RootMargin,
		Thresholds:     cfg.Nav.Thresholds,
		IdleTimeout:    cfg.Nav.SessionIdle,
		SweepInterval:  cfg.Nav.SweepInterval,
	}, portfolio.SectionIDs(), portfolio.Document(), store)
	go nav.Run(ctx)

	r := setupRouter(cfg, portfolio, nav, store)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
}

func setupRouter(cfg config.Config, portfolio *content.Portfolio, nav *navsession.Registry, store *analytics.Store) *gin.Engine {
	r := gin.Default()
	r.LoadHTMLGlob("templates/*")

	r.Static("/images", "./images")
	r.Static("/static", "./static")

	// Home page route
	r.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.html", gin.H{
			"portfolio":      portfolio,
			"nav":            navLinks(portfolio, cfg.Nav.DefaultSection),
			"defaultSection": cfg.Nav.DefaultSection,
			"rendered":       portfolio.Document(),
		})
	})

	// HTMX nav partial, highlighted for a live session or an explicit section
	r.GET("/nav", func(c *gin.Context) {
		active := cfg.Nav.DefaultSection
		if id := c.Query("session"); id != "" {
			s, err := nav.Get(id)
			if err != nil {
				c.Status(http.StatusNotFound)
				return
			}
			active = s.Active()
		} else if sec := c.Query("active"); sec != "" && portfolio.Renders(sec) {
			active = sec
		}
		c.HTML(http.StatusOK, "nav.html", gin.H{
			"nav": navLinks(portfolio, active),
		})
	})

	// Work experience content
	r.GET("/work-content", func(c *gin.Context) {
		c.HTML(http.StatusOK, "work-content.html", gin.H{
			"experience": portfolio.Experience,
		})
	})

	// Projects content
	r.GET("/projects-content", func(c *gin.Context) {
		c.HTML(http.StatusOK, "projects-content.html", gin.H{
			"projects": portfolio.Projects,
		})
	})

	// Skills content
	r.GET("/skills-content", func(c *gin.Context) {
		c.HTML(http.StatusOK, "skills-content.html", gin.H{
			"skills": portfolio.Skills,
		})
	})

	// Education content
	r.GET("/education-content", func(c *gin.Context) {
		c.HTML(http.StatusOK, "education-content.html", gin.H{
			"education": portfolio.Education,
		})
	})

	nav.RegisterRoutes(r)

	setupAdminRoutes(r, newAdminAuth(cfg), store, nav, cfg.AnalyticsRetention)

	return r
}
