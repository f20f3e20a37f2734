// admin.go - privacy-conscious admin for section analytics
package main

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Zachkp/portfolio/internal/analytics"
	"github.com/Zachkp/portfolio/internal/config"
	"github.com/Zachkp/portfolio/internal/navsession"
)

type adminAuth struct {
	token    string
	username string
	password string
}

// Initialize admin access. A fresh token is issued on every start.
func newAdminAuth(cfg config.Config) *adminAuth {
	a := &adminAuth{
		token:    generateAdminToken(),
		username: cfg.AdminUsername,
		password: cfg.AdminPassword,
	}

	// Default credentials for development (set both in production)
	if a.username == "" {
		a.username = "admin"
		if gin.Mode() == gin.DebugMode {
			log.Println("WARNING: Using default admin username. Set ADMIN_USERNAME environment variable.")
		}
	}
	if a.password == "" {
		a.password = "admin123"
		if gin.Mode() == gin.DebugMode {
			log.Println("WARNING: Using default admin password. Set ADMIN_PASSWORD environment variable.")
		}
	}

	log.Printf("Admin access available at: /admin/login")
	if gin.Mode() == gin.DebugMode {
		log.Printf("Admin token (dev only): %s", a.token)
	}
	return a
}

func generateAdminToken() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		log.Fatal("Failed to generate admin token:", err)
	}
	return hex.EncodeToString(bytes)
}

func (a *adminAuth) check(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	return userOK && passOK
}

// Middleware to check admin authentication
func (a *adminAuth) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie("admin_token")
		if err != nil || subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
			c.Redirect(http.StatusFound, "/admin/login")
			c.Abort()
			return
		}
		c.Next()
	}
}

// Setup all admin routes
func setupAdminRoutes(r *gin.Engine, auth *adminAuth, store *analytics.Store, nav *navsession.Registry, retention time.Duration) {
	// Privacy policy route
	r.GET("/privacy", func(c *gin.Context) {
		c.HTML(http.StatusOK, "privacy.html", gin.H{
			"title":     "Privacy Policy",
			"retention": retention,
		})
	})

	// Admin login page
	r.GET("/admin/login", func(c *gin.Context) {
		c.HTML(http.StatusOK, "admin-login.html", gin.H{
			"title": "Admin Login",
		})
	})

	// Admin login handler
	r.POST("/admin/login", func(c *gin.Context) {
		if auth.check(c.PostForm("username"), c.PostForm("password")) {
			// Set secure cookie (24 hours)
			c.SetCookie("admin_token", auth.token, 3600*24, "/admin", "", false, true)
			log.Printf("Admin login successful from %s", store.HashSession(c.ClientIP()))
			c.Redirect(http.StatusFound, "/admin/dashboard")
			return
		}
		log.Printf("Failed admin login attempt from %s", store.HashSession(c.ClientIP()))
		c.HTML(http.StatusUnauthorized, "admin-login.html", gin.H{
			"title": "Admin Login",
			"error": "Invalid credentials",
		})
	})

	// Admin logout
	r.GET("/admin/logout", func(c *gin.Context) {
		c.SetCookie("admin_token", "", -1, "/admin", "", false, true)
		c.Redirect(http.StatusFound, "/admin/login")
	})

	// Protected admin routes group
	adminGroup := r.Group("/admin")
	adminGroup.Use(auth.middleware())

	// Admin dashboard
	adminGroup.GET("/dashboard", func(c *gin.Context) {
		stats, err := store.Stats(c.Request.Context())
		if err != nil {
			log.Printf("Error loading admin stats: %v", err)
			c.HTML(http.StatusInternalServerError, "admin-error.html", gin.H{
				"error": "Failed to load statistics",
			})
			return
		}

		c.HTML(http.StatusOK, "admin-dashboard.html", gin.H{
			"stats":        stats,
			"liveSessions": nav.Len(),
		})
	})

	// Admin API endpoints for HTMX/AJAX
	adminGroup.GET("/api/stats", func(c *gin.Context) {
		stats, err := store.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"stats":         stats,
			"live_sessions": nav.Len(),
		})
	})

	// Privacy cleanup runs in the background
	adminGroup.POST("/privacy/cleanup", func(c *gin.Context) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := store.Cleanup(ctx, retention); err != nil {
				log.Printf("Error cleaning up old section views: %v", err)
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Privacy cleanup initiated"})
	})

	// Admin statistics export (for backups or analysis)
	adminGroup.GET("/export/stats", func(c *gin.Context) {
		stats, err := store.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Header("Content-Disposition", "attachment; filename=section-stats.json")
		log.Printf("Admin stats exported by %s", store.HashSession(c.ClientIP()))
		c.JSON(http.StatusOK, stats)
	})
}
