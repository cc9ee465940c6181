package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"campaignstat/internal/app"
	"campaignstat/internal/config"
	"campaignstat/internal/logging"
	"campaignstat/internal/shutdown"
	"campaignstat/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultConfigFile = "configs/config.yaml"

var (
	// 全局参数
	configFile string
	verbose    bool

	// 报告参数
	contract   string
	fromDate   string
	toDate     string
	campaignID string
	maxPages   int
	pretty     bool
	refresh    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "campaignstat",
		Short:         "代币活动指标统计工具",
		Long:          `通过区块浏览器API统计代币活动前后的活跃钱包数，生成对比报告`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", defaultConfigFile, "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "计算活动前后对比报告",
		Example: `  campaignstat report --contract 0xdAC17F958D2ee523a2206206994597C13D831ec7 --from 2024-04-11 --to 2024-04-13
  campaignstat report --campaign spring-airdrop --refresh`,
		RunE: runReport,
	}
	reportCmd.Flags().StringVar(&contract, "contract", "", "代币合约地址")
	reportCmd.Flags().StringVar(&fromDate, "from", "", "活动开始时间 (YYYY-MM-DD 或 RFC3339)")
	reportCmd.Flags().StringVar(&toDate, "to", "", "活动结束时间 (YYYY-MM-DD 或 RFC3339)")
	reportCmd.Flags().StringVar(&campaignID, "campaign", "", "已登记的活动ID")
	reportCmd.Flags().IntVar(&maxPages, "max-pages", 0, "每个窗口最多拉取的页数 (0 使用配置值)")
	reportCmd.Flags().BoolVar(&refresh, "refresh", false, "忽略已保存的活动报告重新计算")
	reportCmd.Flags().BoolVar(&pretty, "pretty", true, "格式化输出JSON")

	reportsCmd := &cobra.Command{
		Use:   "reports",
		Short: "列出合约已保存的报告",
		RunE:  listReports,
	}
	reportsCmd.Flags().StringVar(&contract, "contract", "", "代币合约地址")
	reportsCmd.Flags().StringVar(&fromDate, "from", "", "只列出活动期间晚于该时间的报告")
	reportsCmd.Flags().StringVar(&toDate, "to", "", "只列出活动期间早于该时间的报告")
	_ = reportsCmd.MarkFlagRequired("contract")

	campaignsCmd := &cobra.Command{
		Use:   "campaigns",
		Short: "列出已登记的活动",
		RunE:  listCampaigns,
	}

	rootCmd.AddCommand(reportCmd, reportsCmd, campaignsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// setup 加载配置并组装组件
func setup(cmd *cobra.Command) (*app.App, error) {
	bootstrap := logrus.New()
	bootstrap.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	path := configFile
	// 默认配置文件不存在时只使用默认值和环境变量
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}

	cfg, err := config.LoadConfig(path, bootstrap)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	// 报告输出到stdout，日志改写到stderr
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	return app.New(cmd.Context(), cfg, logger)
}

func runReport(cmd *cobra.Command, args []string) error {
	if campaignID == "" && (contract == "" || fromDate == "" || toDate == "") {
		return fmt.Errorf("需要指定 --campaign，或同时指定 --contract、--from 和 --to")
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	// Ctrl+C 取消进行中的请求
	gs := shutdown.NewGracefulShutdown(5*time.Second, a.Logger)
	gs.Start()
	defer gs.Shutdown()
	ctx := gs.Context()

	var rep *models.CampaignReport
	if campaignID != "" {
		if refresh {
			rep, err = a.Reports.GenerateForCampaign(ctx, campaignID, maxPages)
		} else {
			rep, err = a.Reports.CampaignReport(ctx, campaignID, false)
		}
	} else {
		rep, err = generateForDates(ctx, a)
	}
	if err != nil {
		return err
	}

	return printJSON(rep)
}

func generateForDates(ctx context.Context, a *app.App) (*models.CampaignReport, error) {
	from, err := models.ParseDate(fromDate, false)
	if err != nil {
		return nil, err
	}
	to, err := models.ParseDate(toDate, true)
	if err != nil {
		return nil, err
	}
	return a.Reports.GenerateForDates(ctx, contract, from, to, maxPages)
}

func listReports(cmd *cobra.Command, args []string) error {
	var from, to time.Time
	var err error
	if fromDate != "" {
		if from, err = models.ParseDate(fromDate, false); err != nil {
			return err
		}
	}
	if toDate != "" {
		if to, err = models.ParseDate(toDate, true); err != nil {
			return err
		}
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	reports, err := a.Reports.Reports(contract, from, to)
	if err != nil {
		return err
	}

	fmt.Printf("📊 合约 %s 的报告 (%d)\n", contract, len(reports))
	fmt.Println(strings.Repeat("=", 100))
	fmt.Printf("%-36s  %-20s  %-20s  %8s  %8s  %9s\n", "ID", "活动开始", "活动结束", "活动前", "活动期间", "变化")
	for _, r := range reports {
		fmt.Printf("%-36s  %-20s  %-20s  %8d  %8d  %9s\n",
			r.ID,
			r.Campaign.Period.DuringCampaign.From,
			r.Campaign.Period.DuringCampaign.To,
			r.Summary.PreCampaign,
			r.Summary.DuringCampaign,
			formatChange(r.Summary),
		)
	}
	return nil
}

func listCampaigns(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	campaigns, err := a.Reports.Campaigns(cmd.Context())
	if err != nil {
		return err
	}
	if len(campaigns) == 0 {
		fmt.Println("未登记任何活动")
		return nil
	}
	for _, c := range campaigns {
		fmt.Printf("%-20s  %-42s  %s ~ %s  %s\n",
			c.ID,
			c.ContractAddress,
			c.Ranges.DuringCampaign.From.Format(time.RFC3339),
			c.Ranges.DuringCampaign.To.Format(time.RFC3339),
			c.Name,
		)
	}
	return nil
}

func formatChange(s models.WalletSummary) string {
	switch {
	case s.ChangePercent != nil:
		return fmt.Sprintf("%+.2f%%", *s.ChangePercent)
	case s.ChangeUnbounded:
		return "新增"
	default:
		return "-"
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
