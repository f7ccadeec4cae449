package cmd

import (
	"fmt"
	u "net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tralahm/multifiledownloader/internal/output"
	"github.com/tralahm/multifiledownloader/internal/scheduler"
	"github.com/tralahm/multifiledownloader/internal/utils"
)

var (
	urls            string
	urlListFile     string
	destDir         string
	workers         int
	cleanDest       bool
	completionShell string
	timeout         time.Duration
	kaTimeout       time.Duration
	userAgent       string
	proxyURL        string
	proxyUsername   string
	proxyPassword   string
	headers         []string
	debug           bool
)

var Version = "dev"

var rootCmd *cobra.Command

func init() {
	rootCmd = &cobra.Command{
		Use:     "multifiledownloader",
		Short:   "A concurrent and configurable multi-file downloader with progress tracking",
		Version: Version,
		Run: func(cmd *cobra.Command, args []string) {
			if completionShell != "" {
				generateCompletions(completionShell)
				return
			}
			utils.InitLogger(debug)
			if userAgent == "randomize" {
				userAgent = utils.GetRandomUserAgent()
			}
			// Check if proxy URL contains auth
			parsedProxy, err := u.Parse(proxyURL)
			if err == nil && parsedProxy.User != nil && proxyUsername == "" {
				proxyUsername = parsedProxy.User.Username()
				if password, set := parsedProxy.User.Password(); set {
					proxyPassword = password
				}
				// Remove auth from URL to send in clientConfig
				parsedProxy.User = nil
				proxyURL = parsedProxy.String()
			}
			clientConfig := utils.HTTPClientConfig{
				Timeout:       timeout,
				KATimeout:     kaTimeout,
				ProxyURL:      proxyURL,
				ProxyUsername: proxyUsername,
				ProxyPassword: proxyPassword,
				UserAgent:     userAgent,
				Headers:       utils.ParseHeaderArgs(headers),
			}

			dest := utils.ExpandPath(destDir)
			jobs := scheduler.BuildJobs(utils.ParseURLList(urls), dest)
			if urlListFile != "" {
				entries, err := utils.ReadDownloadList(urlListFile)
				if err != nil {
					output.PrintError("Failed to read URL list file")
					os.Exit(1)
				}
				for _, entry := range entries {
					if _, err := u.Parse(entry.URL); err != nil {
						continue
					}
					jobs = append(jobs, scheduler.NewJob(entry.URL, dest, entry.OutputPath))
				}
			}
			if len(jobs) == 0 {
				output.PrintError("No valid URLs provided")
				os.Exit(1)
			}

			summary, err := scheduler.Run(jobs, scheduler.Options{
				DestDir:      dest,
				Workers:      workers,
				Clean:        cleanDest,
				Pace:         true,
				Display:      true,
				ClientConfig: clientConfig,
			})
			if err != nil {
				output.PrintError(fmt.Sprintf("Download run failed: %v", err))
				os.Exit(1)
			}
			log.Info().Msgf("Downloaded %d files of size %s to %s using %d workers",
				summary.Files, summary.HumanSize, dest, workers)
			if summary.Failed > 0 {
				output.PrintError("Encountered failed download(s)")
				os.Exit(1)
			}
		},
	}
}

// generateCompletions writes a shell completion script to stdout. This mode
// bypasses the download engine entirely.
func generateCompletions(shell string) {
	switch strings.ToLower(shell) {
	case "bash":
		rootCmd.GenBashCompletionV2(os.Stdout, true)
	case "zsh":
		rootCmd.GenZshCompletion(os.Stdout)
	case "fish":
		rootCmd.GenFishCompletion(os.Stdout, true)
	case "powershell":
		rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
	default:
		fmt.Printf("Unsupported shell %s\n", shell)
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&urls, "urls", "u", "", "Comma-separated list of URLs to download")
	rootCmd.Flags().StringVarP(&urlListFile, "urllist", "l", "", "Path to YAML file containing URLs and output paths")
	rootCmd.Flags().StringVarP(&destDir, "dest", "d", ".", "Destination folder")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 8, "Number of concurrent workers")
	rootCmd.Flags().BoolVarP(&cleanDest, "clean", "c", false, "Clean destination folder if it exists")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Connection timeout (eg. 5s, 10m)")
	rootCmd.Flags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.Flags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent")
	rootCmd.Flags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.Flags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.Flags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.Flags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")

	// flags without shorthand
	rootCmd.Flags().StringVar(&completionShell, "completion", "", "Shell to generate completion script for (bash, zsh, fish, powershell)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
}
