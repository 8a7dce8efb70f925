package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"flowboard/internal/app"
	"flowboard/internal/domain"
	"flowboard/internal/engine"
	"flowboard/internal/migrate"
	"flowboard/internal/repo"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				v, err := migrate.Version(a.DB)
				if err != nil {
					return err
				}
				fmt.Printf("schema version %d (%s)\n", v, a.Dialect)
				return nil
			})
		},
	}
}

// seedCmd creates the first account, which becomes the global admin.
func seedCmd() *cobra.Command {
	var email, name, password string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the initial admin user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				n, err := a.Engine.Repo.CountUsers(ctx, a.DB)
				if err != nil {
					return err
				}
				if n > 0 {
					fmt.Println("users already exist, nothing to seed")
					return nil
				}
				u, err := a.Engine.Register(ctx, engine.RegisterInput{Email: email, Name: name, Password: password})
				if err != nil {
					return err
				}
				return printUsers([]domain.User{u})
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "admin@flowboard.local", "admin email")
	cmd.Flags().StringVar(&name, "name", "Administrator", "admin display name")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage users"}
	usr.AddCommand(userCreateCmd())
	return usr
}

func userCreateCmd() *cobra.Command {
	var email, name, password string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.Register(ctx, engine.RegisterInput{Email: email, Name: name, Password: password})
				if err != nil {
					return err
				}
				return printUsers([]domain.User{u})
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func printUsers(users []domain.User) error {
	rows := make([]table.Row, 0, len(users))
	for _, u := range users {
		rows = append(rows, table.Row{u.ID, u.Email, u.Name, u.Role})
	}
	return printJSONOrTable(users, table.Row{"ID", "Email", "Name", "Role"}, rows)
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectAddMemberCmd())
	return prj
}

func printProjects(items []domain.Project) error {
	rows := make([]table.Row, 0, len(items))
	for _, p := range items {
		rows = append(rows, table.Row{p.Key, p.Name, p.Methodology, p.IssueCounter, p.MemberCount, p.ID})
	}
	return printJSONOrTable(items, table.Row{"Key", "Name", "Methodology", "Issues", "Members", "ID"}, rows)
}

func projectListCmd() *cobra.Command {
	var page, size int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the acting user's projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				u, err := actor(ctx, a)
				if err != nil {
					return err
				}
				items, total, err := a.Engine.ListProjects(ctx, u.ID, page, size)
				if err != nil {
					return err
				}
				if err := printProjects(items); err != nil {
					return err
				}
				if len(items) < total {
					fmt.Fprintf(os.Stderr, "showing %d of %d\n", len(items), total)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&size, "size", 20, "page size")
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var in engine.ProjectCreateInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project owned by the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				u, err := actor(ctx, a)
				if err != nil {
					return err
				}
				p, err := a.Engine.CreateProject(ctx, in, u.ID)
				if err != nil {
					return err
				}
				return printProjects([]domain.Project{p})
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "project name")
	cmd.Flags().StringVar(&in.Key, "key", "", "issue key prefix (derived from the name when empty)")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.Methodology, "methodology", "kanban", "kanban or scrum")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectAddMemberCmd() *cobra.Command {
	var project, email, role string
	cmd := &cobra.Command{
		Use:   "add-member",
		Short: "Add a registered user to a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				u, err := actor(ctx, a)
				if err != nil {
					return err
				}
				p, err := resolveProject(ctx, a, project)
				if err != nil {
					return err
				}
				m, err := a.Engine.AddMember(ctx, p.ID, email, domain.Role(role), u.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(m, table.Row{"Project", "User", "Email", "Role"},
					[]table.Row{{p.Key, m.User.Name, m.User.Email, m.Role}})
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project key or id")
	cmd.Flags().StringVar(&email, "email", "", "member email")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleDeveloper), "admin, project_manager, developer or viewer")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func sprintCmd() *cobra.Command {
	sp := &cobra.Command{Use: "sprint", Short: "Plan and run sprints"}
	sp.AddCommand(sprintListCmd())
	sp.AddCommand(sprintCreateCmd())
	sp.AddCommand(sprintTransitionCmd("start", "Start a planning sprint"))
	sp.AddCommand(sprintTransitionCmd("complete", "Complete the active sprint, returning unfinished issues to the backlog"))
	return sp
}

func printSprints(items []domain.Sprint) error {
	rows := make([]table.Row, 0, len(items))
	for _, s := range items {
		rows = append(rows, table.Row{s.ID, s.Name, s.Status, deref(s.StartDate), deref(s.EndDate), s.IssueCount})
	}
	return printJSONOrTable(items, table.Row{"ID", "Name", "Status", "Start", "End", "Issues"}, rows)
}

func sprintListCmd() *cobra.Command {
	var project, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sprints",
		RunE: func(cmd *cobra.Command, args []string) error {
			var st domain.SprintStatus
			if status != "" {
				var err error
				if st, err = domain.ParseSprintStatus(status); err != nil {
					return err
				}
			}
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				u, err := actor(ctx, a)
				if err != nil {
					return err
				}
				p, err := resolveProject(ctx, a, project)
				if err != nil {
					return err
				}
				items, err := a.Engine.ListSprints(ctx, p.ID, st, u.ID)
				if err != nil {
					return err
				}
				return printSprints(items)
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project key or id")
	cmd.Flags().StringVar(&status, "status", "", "planning, active or completed")
	return cmd
}

func sprintCreateCmd() *cobra.Command {
	var project string
	var in engine.SprintInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a sprint in planning",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				u, err := actor(ctx, a)
				if err != nil {
					return err
				}
				p, err := resolveProject(ctx, a, project)
				if err != nil {
					return err
				}
				sp, err := a.Engine.CreateSprint(ctx, p.ID, in, u.ID)
				if err != nil {
					return err
				}
				return printSprints([]domain.Sprint{sp})
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project key or id")
	cmd.Flags().StringVar(&in.Name, "name", "", "sprint name")
	cmd.Flags().StringVar(&in.Goal, "goal", "", "sprint goal")
	cmd.Flags().StringVar(&in.StartDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&in.EndDate, "end", "", "end date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func sprintTransitionCmd(verb, short string) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   verb + " <sprint-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				u, err := actor(ctx, a)
				if err != nil {
					return err
				}
				p, err := resolveProject(ctx, a, project)
				if err != nil {
					return err
				}
				if verb == "start" {
					sp, err := a.Engine.StartSprint(ctx, p.ID, args[0], u.ID)
					if err != nil {
						return err
					}
					return printSprints([]domain.Sprint{sp})
				}
				sp, moved, err := a.Engine.CompleteSprint(ctx, p.ID, args[0], u.ID)
				if err != nil {
					return err
				}
				if err := printSprints([]domain.Sprint{sp}); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "%d unfinished issues returned to the backlog\n", moved)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project key or id")
	return cmd
}

func issueCmd() *cobra.Command {
	is := &cobra.Command{Use: "issue", Short: "Create and list issues"}
	is.AddCommand(issueListCmd())
	is.AddCommand(issueCreateCmd())
	return is
}

func printIssues(items []domain.Issue) error {
	rows := make([]table.Row, 0, len(items))
	for _, is := range items {
		rows = append(rows, table.Row{is.Key, is.Type, is.Title, is.Status.Name, is.Priority, deref(is.AssigneeID)})
	}
	return printJSONOrTable(items, table.Row{"Key", "Type", "Title", "Status", "Priority", "Assignee"}, rows)
}

func issueListCmd() *cobra.Command {
	var project string
	var f repo.IssueFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				u, err := actor(ctx, a)
				if err != nil {
					return err
				}
				p, err := resolveProject(ctx, a, project)
				if err != nil {
					return err
				}
				items, total, err := a.Engine.ListIssues(ctx, p.ID, f, u.ID)
				if err != nil {
					return err
				}
				if err := printIssues(items); err != nil {
					return err
				}
				if len(items) < total {
					fmt.Fprintf(os.Stderr, "showing %d of %d\n", len(items), total)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project key or id")
	cmd.Flags().StringVar(&f.Type, "type", "", "issue type")
	cmd.Flags().StringVar(&f.SprintID, "sprint", "", "sprint id")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee", "", "assignee user id")
	cmd.Flags().StringVar(&f.Search, "search", "", "text in title or description")
	cmd.Flags().BoolVar(&f.Backlog, "backlog", false, "only issues without a sprint")
	cmd.Flags().IntVar(&f.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&f.Size, "size", 50, "page size")
	return cmd
}

func issueCreateCmd() *cobra.Command {
	var project, issueType, priority string
	var in engine.IssueCreateInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				u, err := actor(ctx, a)
				if err != nil {
					return err
				}
				p, err := resolveProject(ctx, a, project)
				if err != nil {
					return err
				}
				in.ProjectID = p.ID
				in.Type = domain.IssueType(issueType)
				in.Priority = domain.Priority(priority)
				is, err := a.Engine.CreateIssue(ctx, in, u.ID)
				if err != nil {
					return err
				}
				return printIssues([]domain.Issue{is})
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project key or id")
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description (HTML allowed)")
	cmd.Flags().StringVar(&issueType, "type", string(domain.IssueTask), "epic, story, task, bug or subtask")
	cmd.Flags().StringVar(&priority, "priority", string(domain.PriorityMedium), "critical, high, medium or low")
	cmd.Flags().StringVar(&in.ParentID, "parent", "", "parent issue id")
	cmd.Flags().StringVar(&in.SprintID, "sprint", "", "sprint id")
	cmd.Flags().StringVar(&in.AssigneeID, "assignee", "", "assignee user id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func notificationsCmd() *cobra.Command {
	n := &cobra.Command{Use: "notifications", Short: "Notification maintenance"}
	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete read notifications older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				retention := olderThan
				if retention == 0 {
					retention = a.Config.Notifications.Retention
				}
				if retention <= 0 {
					return errors.New("a positive --older-than or notifications.retention is required")
				}
				deleted, err := a.Engine.PurgeReadNotifications(ctx, retention)
				if err != nil {
					return err
				}
				fmt.Printf("deleted %d read notifications\n", deleted)
				return nil
			})
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", 0, "retention window (defaults to notifications.retention)")
	n.AddCommand(purge)
	return n
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			masked := *cfg
			if masked.Auth.JWTSecret != "" {
				masked.Auth.JWTSecret = "********"
			}
			if masked.Uploads.Minio.SecretKey != "" {
				masked.Uploads.Minio.SecretKey = "********"
			}
			masked.Webhooks = nil
			for _, h := range cfg.Webhooks {
				if h.Secret != "" {
					h.Secret = "********"
				}
				masked.Webhooks = append(masked.Webhooks, h)
			}
			out, err := masked.Marshal()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return c
}
