package agent

// Coupon 为营销团队可查询的优惠码
type Coupon struct {
	Code                     string `json:"code"`
	DiscountPercentage       string `json:"discount_percentage"`
	Description              string `json:"description"`
	ValidFrom                string `json:"valid_from"`
	ValidTo                  string `json:"valid_to"`
	UsageCount               int    `json:"usage_count"`
	UsageLimit               int    `json:"usage_limit"`
	UsageLimitPerUser        int    `json:"usage_limit_per_user"`
	UsageLimitPerUserPerCode int    `json:"usage_limit_per_user_per_code,omitempty"`
}

// Email 为收件箱中的一封邮件，字段沿用 Gmail API 的命名
type Email struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	LabelIDs []string `json:"labelIds"`
	Snippet  string   `json:"snippet"`
	From     string   `json:"from"`
	To       string   `json:"to"`
	Subject  string   `json:"subject"`
	Date     string   `json:"date"`
}

func defaultCoupons() []Coupon {
	return []Coupon{
		{
			Code:                     "EARLY_BIRDS_DISCOUNT",
			DiscountPercentage:       "30",
			Description:              "This is a discount code for the early birds",
			ValidFrom:                "2025-01-01",
			ValidTo:                  "2025-01-31",
			UsageCount:               100,
			UsageLimit:               100,
			UsageLimitPerUser:        1,
			UsageLimitPerUserPerCode: 1,
		},
		{
			Code:               "DIWALI_DISCOUNT",
			DiscountPercentage: "20",
			Description:        "This is a discount code for the diwali festival",
			ValidFrom:          "2025-01-01",
			ValidTo:            "2025-01-15",
			UsageCount:         100,
			UsageLimit:         100,
			UsageLimitPerUser:  1,
		},
		{
			Code:               "WINTER25",
			DiscountPercentage: "25",
			Description:        "Winter special discount for all courses",
			ValidFrom:          "2025-01-01",
			ValidTo:            "2025-02-28",
			UsageCount:         50,
			UsageLimit:         200,
			UsageLimitPerUser:  1,
		},
	}
}

func defaultInbox() []Email {
	const to = "support@finlearnhub.com"
	return []Email{
		{
			ID:       "18c3f21b5d6e789",
			ThreadID: "18c3f21b5d6e789",
			LabelIDs: []string{"INBOX", "UNREAD"},
			Snippet:  "Hi, I purchased your JavaScript Masterclass last week but I would like to request a refund. The course content doesn't match what was advertised.",
			From:     "john.doe@example.com",
			To:       to,
			Subject:  "Refund Request - JavaScript Masterclass",
			Date:     "Mon, 4 Nov 2024 10:30:00 +0000",
		},
		{
			ID:       "18c3f21b5d6e790",
			ThreadID: "18c3f21b5d6e790",
			LabelIDs: []string{"INBOX"},
			Snippet:  "Hello team, I enrolled in the Financial Planning course but realized it's not the right level for me. Please initiate a refund.",
			From:     "anita.patel@example.com",
			To:       to,
			Subject:  "Refund Request - Financial Planning Course",
			Date:     "Tue, 5 Nov 2024 09:15:00 +0000",
		},
		{
			ID:       "18c3f21b5d6e791",
			ThreadID: "18c3f21b5d6e791",
			LabelIDs: []string{"INBOX"},
			Snippet:  "Hey, I wanted to know when the next batch of your Mutual Funds Investing course will start?",
			From:     "rahul.verma@example.com",
			To:       to,
			Subject:  "Course Inquiry - Mutual Funds Investing",
			Date:     "Wed, 6 Nov 2024 14:00:00 +0000",
		},
		{
			ID:       "18c3f21b5d6e792",
			ThreadID: "18c3f21b5d6e792",
			LabelIDs: []string{"INBOX", "READ"},
			Snippet:  "The Stock Market Basics course was fantastic! The examples made complex topics easy to grasp. Great work!",
			From:     "neha.sharma@example.com",
			To:       to,
			Subject:  "Feedback - Stock Market Basics Course",
			Date:     "Thu, 7 Nov 2024 11:45:00 +0000",
		},
		{
			ID:       "18c3f21b5d6e793",
			ThreadID: "18c3f21b5d6e793",
			LabelIDs: []string{"INBOX"},
			Snippet:  "Just wanted to say thank you! Your Mutual Funds course helped me set up my SIPs confidently.",
			From:     "amit.kapoor@example.com",
			To:       to,
			Subject:  "Appreciation - Mutual Funds Investing Course",
			Date:     "Fri, 8 Nov 2024 08:20:00 +0000",
		},
	}
}
