package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("groups_config")

		collection.Fields.Add(
			&core.TextField{Name: "group", Required: true},
			&core.BoolField{Name: "enabled"},
			&core.NumberField{Name: "seat_limit", OnlyInt: true},
			&core.NumberField{Name: "start_minute", OnlyInt: true},
			&core.NumberField{Name: "end_minute", OnlyInt: true},
			&core.NumberField{Name: "task_end_minute", OnlyInt: true},
			&core.NumberField{Name: "report_minute", OnlyInt: true},
			&core.TextField{Name: "weight_vocab"},
			&core.TextField{Name: "verify_mode"},
			&core.BoolField{Name: "allow_task_quit"},
			&core.NumberField{Name: "checkin_limit", OnlyInt: true},
			&core.NumberField{Name: "checkin_per_user", OnlyInt: true},
			&core.NumberField{Name: "checkin_grace", OnlyInt: true},
			&core.TextField{Name: "lineup_desc"},
			&core.TextField{Name: "welcome_msg"},
			&core.TextField{Name: "exit_msg"},
			&core.JSONField{Name: "banned_members"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_groups_config_group", true, "`group`", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("groups_config")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
