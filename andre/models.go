//nolint:lll // struct tags can't be split
package andre

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

const birthdateLayout = "2006-01-02"

const (
	columnUserMALName   = "mal_name"
	columnUserGender    = "gender"
	columnUserBirthdate = "birthdate"
	columnUserBio       = "bio"
	columnUserTimezone  = "timezone"
	columnUserCountryID = "country_id"
)

// purgeableColumns are the User columns `!purgedb` can reset
var purgeableColumns = []string{
	columnUserMALName,
	columnUserGender,
	columnUserBirthdate,
	columnUserBio,
	columnUserTimezone,
}

// User is a member profile. Optional fields are empty strings when unset.
type User struct {
	ModelUintID

	// DiscordID is the member's discord user ID
	DiscordID string `json:"discord_id" gorm:"uniqueIndex;size:100;not null"`
	MALName   string `json:"mal_name,omitempty" gorm:"size:250;index"`
	Gender    string `json:"gender,omitempty" gorm:"size:250"`

	// Birthdate, formatted yyyy-mm-dd
	Birthdate string `json:"birthdate,omitempty" gorm:"size:10"`
	Bio       string `json:"bio,omitempty" gorm:"size:4000"`

	// Timezone is an IANA timezone name, ex: Europe/Paris
	Timezone string `json:"timezone,omitempty" gorm:"size:250"`

	CountryID *uint    `json:"country_id,omitempty"`
	Country   *Country `json:"country,omitempty" gorm:"constraint:OnDelete:SET NULL"`

	Languages            []Language            `json:"languages,omitempty" gorm:"constraint:OnDelete:CASCADE"`
	ProgrammingLanguages []ProgrammingLanguage `json:"programming_languages,omitempty" gorm:"constraint:OnDelete:CASCADE"`
	Projects             []Project             `json:"projects,omitempty" gorm:"many2many:user_project"`

	ModelTimestamps
}

func (User) TableName() string {
	return "user"
}

func (u *User) String() string {
	return fmt.Sprintf("%s [mal:%s]", u.DiscordID, u.MALName)
}

// BirthdateTime parses Birthdate
func (u *User) BirthdateTime() (time.Time, bool) {
	if u.Birthdate == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(birthdateLayout, u.Birthdate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Age returns the user's age at the given time. ok is false when the
// birthdate is unset, unparseable, or gives an age outside of (10, 100),
// which is how placeholder birthdates are filtered out.
func (u *User) Age(now time.Time) (age int, ok bool) {
	born, ok := u.BirthdateTime()
	if !ok {
		return 0, false
	}
	age = now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		age--
	}
	return age, age > 10 && age < 100
}

// Location loads the user's timezone
func (u *User) Location() (*time.Location, bool) {
	if u.Timezone == "" {
		return nil, false
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return nil, false
	}
	return loc, true
}

// Project is shared between users. It is deleted when its last
// owner removes it.
type Project struct {
	ModelUintID
	Name        string `json:"name" gorm:"size:250;not null"`
	Description string `json:"description" gorm:"size:1000"`
	Link        string `json:"link,omitempty" gorm:"size:250"`
	ModelTimestamps
}

func (Project) TableName() string {
	return "project"
}

// Content is the project's name, description and link, as displayed
func (p Project) Content() string {
	content := fmt.Sprintf("**%s**: %s", p.Name, p.Description)
	if p.Link != "" {
		content += "\n" + p.Link
	}
	return content
}

// Country is an ISO 3166 alpha-3 code
type Country struct {
	ModelUintID
	Code string `json:"code" gorm:"size:3;not null"`
}

func (Country) TableName() string {
	return "country"
}

// Language is an ISO 639-3 code spoken by a user. The code 'mis' with an
// extra is used for languages without a code.
type Language struct {
	ModelUintID
	UserID uint   `json:"user_id" gorm:"index;not null"`
	Code   string `json:"code" gorm:"size:3;not null"`
	Extra  string `json:"extra,omitempty" gorm:"size:200"`
}

func (Language) TableName() string {
	return "user_language"
}

type ProgrammingLanguage struct {
	ModelUintID
	UserID uint   `json:"user_id" gorm:"index;not null"`
	Name   string `json:"name" gorm:"size:100;not null"`
	Extra  string `json:"extra,omitempty" gorm:"size:200"`
}

func (ProgrammingLanguage) TableName() string {
	return "user_programming_language"
}

// Display renders the language as "name (extra)"
func (p ProgrammingLanguage) Display() string {
	if p.Extra != "" {
		return fmt.Sprintf("%s (%s)", p.Name, p.Extra)
	}
	return p.Name
}

// Extras is an admin-defined profile question. Options, when set, is a
// comma-separated list of accepted answers.
type Extras struct {
	ModelUintID
	Question string `json:"question" gorm:"size:1000;not null"`
	Options  string `json:"options,omitempty" gorm:"size:1000"`
}

func (Extras) TableName() string {
	return "extras"
}

// OptionList splits Options
func (e Extras) OptionList() []string {
	if strings.TrimSpace(e.Options) == "" {
		return nil
	}
	var opts []string
	for _, o := range strings.Split(e.Options, ",") {
		if o = strings.TrimSpace(o); o != "" {
			opts = append(opts, o)
		}
	}
	return opts
}

type UserExtras struct {
	UserID   uint    `json:"user_id" gorm:"primaryKey;autoIncrement:false"`
	ExtrasID uint    `json:"extras_id" gorm:"primaryKey;autoIncrement:false"`
	Response string  `json:"response" gorm:"size:1000"`
	User     *User   `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	Extras   *Extras `json:"-" gorm:"constraint:OnDelete:CASCADE"`
}

func (UserExtras) TableName() string {
	return "user_extras"
}

type Badge struct {
	ModelUintID
	Description string `json:"description" gorm:"size:1000;not null"`
	Link        string `json:"link,omitempty" gorm:"size:1000"`
}

func (Badge) TableName() string {
	return "badge"
}

// UserBadge is a badge award. Timestamp is a unix timestamp (seconds).
type UserBadge struct {
	UserID    uint   `json:"user_id" gorm:"primaryKey;autoIncrement:false"`
	BadgeID   uint   `json:"badge_id" gorm:"primaryKey;autoIncrement:false"`
	Timestamp int64  `json:"timestamp"`
	User      *User  `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	Badge     *Badge `json:"-" gorm:"constraint:OnDelete:CASCADE"`
}

func (UserBadge) TableName() string {
	return "user_badge"
}

// ErrNotFound is returned when a database lookup matches nothing
var ErrNotFound = errors.New("not found")

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return err
}

// preloadProfile preloads every association shown by !profile
func preloadProfile(db *gorm.DB) *gorm.DB {
	return db.Preload("Country").
		Preload("Languages").
		Preload("ProgrammingLanguages").
		Preload("Projects")
}

// getUserByDiscordID loads a user and their profile associations
func getUserByDiscordID(ctx context.Context, db *gorm.DB, discordID string) (*User, error) {
	var user User
	err := preloadProfile(db.WithContext(ctx)).
		Where("discord_id = ?", discordID).
		First(&user).Error
	if err != nil {
		return nil, notFound(err, "user %s", discordID)
	}
	return &user, nil
}

// getUserByMALName matches a MAL username case-insensitively. With
// partial, name may be anywhere in the username.
func getUserByMALName(ctx context.Context, db *gorm.DB, name string, partial bool) (*User, error) {
	pattern := escapeLike(name)
	if partial {
		pattern = "%" + pattern + "%"
	}
	var user User
	err := db.WithContext(ctx).
		Where(`LOWER(mal_name) LIKE LOWER(?) ESCAPE '\'`, pattern).
		Order("id").
		First(&user).Error
	if err != nil {
		return nil, notFound(err, "user with MAL name %q", name)
	}
	return &user, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match itself literally in a LIKE pattern
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// allUsers returns every user with their profile associations
func allUsers(ctx context.Context, db *gorm.DB) ([]User, error) {
	var users []User
	err := preloadProfile(db.WithContext(ctx)).Order("id").Find(&users).Error
	return users, err
}

// usersWithMAL returns every user with a MAL username set
func usersWithMAL(ctx context.Context, db *gorm.DB) ([]User, error) {
	var users []User
	err := db.WithContext(ctx).
		Where("mal_name IS NOT NULL AND mal_name <> ''").
		Order("id").
		Find(&users).Error
	return users, err
}

// malNames returns the distinct MAL usernames of the given users
func malNames(users []User) []string {
	seen := map[string]bool{}
	var names []string
	for _, u := range users {
		if u.MALName == "" || seen[u.MALName] {
			continue
		}
		seen[u.MALName] = true
		names = append(names, u.MALName)
	}
	return names
}

// fetchOrCreateCountry returns the country with the given code
// (case-insensitive), creating it if needed
func fetchOrCreateCountry(tx *gorm.DB, code string) (*Country, error) {
	var country Country
	err := tx.Where("LOWER(code) = LOWER(?)", code).First(&country).Error
	switch {
	case err == nil:
		return &country, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		country = Country{Code: strings.ToUpper(code)}
		if err = tx.Create(&country).Error; err != nil {
			return nil, err
		}
		return &country, nil
	default:
		return nil, err
	}
}

// findProjectByName matches a project name case-insensitively
func findProjectByName(ctx context.Context, db *gorm.DB, name string) (*Project, error) {
	var project Project
	err := db.WithContext(ctx).Where("LOWER(name) = LOWER(?)", name).First(&project).Error
	if err != nil {
		return nil, notFound(err, "project %q", name)
	}
	return &project, nil
}

// projectOwners returns the users who have the given project
func projectOwners(ctx context.Context, db *gorm.DB, projectID uint) ([]User, error) {
	var users []User
	err := db.WithContext(ctx).
		Joins("JOIN user_project ON user_project.user_id = \"user\".id").
		Where("user_project.project_id = ?", projectID).
		Find(&users).Error
	return users, err
}

// removeUserProject detaches a project from the user, deleting it when
// nobody else owns it
func removeUserProject(tx *gorm.DB, user *User, project *Project) error {
	if err := tx.Model(user).Association("Projects").Delete(project); err != nil {
		return err
	}
	var remaining int64
	err := tx.Table("user_project").Where("project_id = ?", project.ID).Count(&remaining).Error
	if err != nil {
		return err
	}
	if remaining == 0 {
		return tx.Delete(project).Error
	}
	return nil
}

// replaceLanguages deletes the user's languages and inserts the new ones
func replaceLanguages(tx *gorm.DB, userID uint, languages []Language) error {
	if err := tx.Where("user_id = ?", userID).Delete(&Language{}).Error; err != nil {
		return err
	}
	for i := range languages {
		languages[i].ID = 0
		languages[i].UserID = userID
	}
	if len(languages) == 0 {
		return nil
	}
	return tx.Create(&languages).Error
}

func replaceProgrammingLanguages(tx *gorm.DB, userID uint, languages []ProgrammingLanguage) error {
	if err := tx.Where("user_id = ?", userID).Delete(&ProgrammingLanguage{}).Error; err != nil {
		return err
	}
	for i := range languages {
		languages[i].ID = 0
		languages[i].UserID = userID
	}
	if len(languages) == 0 {
		return nil
	}
	return tx.Create(&languages).Error
}

func removeUserExtras(tx *gorm.DB, userID uint) error {
	return tx.Where("user_id = ?", userID).Delete(&UserExtras{}).Error
}

// removeUserProjects detaches every project, deleting the ones the
// user was the only owner of
func removeUserProjects(tx *gorm.DB, user *User) error {
	var projects []Project
	if err := tx.Model(user).Association("Projects").Find(&projects); err != nil {
		return err
	}
	for i := range projects {
		if err := removeUserProject(tx, user, &projects[i]); err != nil {
			return err
		}
	}
	return nil
}

// purgeUser deletes a user and everything they own. Their country is
// deleted when no other user references it.
func purgeUser(tx *gorm.DB, user *User) error {
	if err := removeUserExtras(tx, user.ID); err != nil {
		return err
	}
	if err := tx.Where("user_id = ?", user.ID).Delete(&UserBadge{}).Error; err != nil {
		return err
	}
	if err := tx.Where("user_id = ?", user.ID).Delete(&Language{}).Error; err != nil {
		return err
	}
	if err := tx.Where("user_id = ?", user.ID).Delete(&ProgrammingLanguage{}).Error; err != nil {
		return err
	}
	if err := removeUserProjects(tx, user); err != nil {
		return err
	}
	if err := tx.Delete(user).Error; err != nil {
		return err
	}
	if user.CountryID != nil {
		var others int64
		err := tx.Model(&User{}).Where("country_id = ?", *user.CountryID).Count(&others).Error
		if err != nil {
			return err
		}
		if others == 0 {
			return tx.Delete(&Country{}, *user.CountryID).Error
		}
	}
	return nil
}

// purgeUserField clears a single profile field. Valid fields are
// purgeableColumns plus languages, prog_languages, projects and extras.
func purgeUserField(tx *gorm.DB, user *User, field string) error {
	switch field {
	case "languages":
		return tx.Where("user_id = ?", user.ID).Delete(&Language{}).Error
	case "prog_languages":
		return tx.Where("user_id = ?", user.ID).Delete(&ProgrammingLanguage{}).Error
	case "projects":
		return removeUserProjects(tx, user)
	case "extras":
		return removeUserExtras(tx, user.ID)
	}
	for _, c := range purgeableColumns {
		if c == field {
			return tx.Model(user).Update(field, "").Error
		}
	}
	return fmt.Errorf("%w: unrecognized field %q", ErrBadArgument, field)
}
