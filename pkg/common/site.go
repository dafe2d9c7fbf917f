package common

import (
	"fmt"
	"strings"
)

// Site describes the admin console: where to sign in, where an exam's
// submissions live, and the XPath locators of every element the crawler
// touches.
type Site struct {
	SignInURL string `yaml:"sign_in_url"`
	ExamsURL  string `yaml:"exams_url"`

	SiteSelect    string `yaml:"site_select"`
	EmailInput    string `yaml:"email_input"`
	PasswordInput string `yaml:"password_input"`
	LoginButton   string `yaml:"login_button"`
	Pagination    string `yaml:"pagination"`
	StudentName   string `yaml:"student_name"`
	AnswerButton  string `yaml:"answer_button"`
	BlogLink      string `yaml:"blog_link"`
	CloseDetail   string `yaml:"close_detail"`
	CloseOverlay  string `yaml:"close_overlay"`
	NextButton    string `yaml:"next_button"`
}

// DefaultSite returns the locators of the production console.
func DefaultSite() Site {
	return Site{
		SignInURL: "https://lmsadmin-kdt.fastcampus.co.kr/sign-in",
		ExamsURL:  "https://lmsadmin-kdt.fastcampus.co.kr/exams/",

		SiteSelect:    `//*[@id="site"]`,
		EmailInput:    `//*[@id="userName"]`,
		PasswordInput: `//*[@id="password"]`,
		LoginButton:   `//*[@id="app"]/main/section/div/form/button`,
		Pagination:    `//*[@id="app"]/main/section/div/div[2]/div/div[2]/div[2]/span[2]`,
		StudentName:   `//*[@id="app"]/main/section/div/div[2]/div/div[2]/div[1]/strong`,
		AnswerButton:  `//*[@id="app"]/main/section/div/div[2]/div/div[4]/div/div/table/tbody/tr/td[6]/button`,
		BlogLink:      `//*[@id="modals"]/section/div/div/div/div[2]/ul/li[2]/div/p`,
		CloseDetail:   `//*[@id="modals"]/section/div/div/div/div[1]/button`,
		CloseOverlay:  `//*[@id="modals"]/section[2]/div/div/section/div/button[2]`,
		NextButton:    `//*[@id="app"]/main/section/div/div[2]/div/div[2]/div[2]/button[2]`,
	}
}

// ExamURL returns the detail view of an exam's submissions.
func (s Site) ExamURL(examID string) string {
	base := s.ExamsURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return fmt.Sprintf("%s%s/detail", base, examID)
}
